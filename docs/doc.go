// Package docs provides generated OpenAPI documentation.
//
// Takeoff API
//
//	@title			Takeoff API
//	@version		1.0
//	@description	Batch takeoff and plan quality analysis: jobs, batch processing, merge and provider state.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/takeoff
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/takeoff/serve.go -o . --outputTypes go --parseDependency --parseInternal
