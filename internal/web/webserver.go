// Package web provides the HTTP server for go-rangeview
package web

/*

	### **Core Files:**
	1. **`webserver_core_routes.go`** - Server setup, middleware chain and route configuration
	2. **`web_utils.go`** - Rendering, error mapping and ETag helpers
	3. **`web_middleware.go`** - Request IDs and per-client rate limiting
	4. **`embedded_static.go`** - Embedded templates and static files

	### **Page Handler Files:**
	5. **`web_homePage.go`** - Users page: partitioned scan plus secondary preview

	### **API File:**
	6. **`web_apiHandlers.go`** - JSON endpoints for the scan and its partition plan

*/
