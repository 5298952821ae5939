package endpoints

import "github.com/jackzampolin/takeoff/internal/api"

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Job endpoints
		&CreateJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&ListBatchesEndpoint{},
		&ProcessJobEndpoint{},
		&MergeJobEndpoint{},
		&JobResultEndpoint{},
		&FailJobEndpoint{},

		// Provider rate-limit state
		&ListProvidersEndpoint{},

		// Config endpoints
		&ListConfigEndpoint{},
		&GetConfigEndpoint{},

		&MetricsEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
