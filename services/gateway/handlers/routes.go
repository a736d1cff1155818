// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the MCP endpoint on the given router group.
//
// Routes:
//   - POST    ""  JSON-RPC message (initialize, tools/*, resources/*, ping)
//   - GET     ""  SSE event stream for an existing session
//   - DELETE  ""  close a session
//   - OPTIONS ""  CORS preflight
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("", handlers.HandleMCPPost)
	rg.GET("", handlers.HandleMCPGet)
	rg.DELETE("", handlers.HandleMCPDelete)
	rg.OPTIONS("", handlers.HandleMCPOptions)
}
