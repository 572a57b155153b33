package handlers

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts every plate API route on app.
func RegisterRoutes(app fiber.Router, health *HealthHandler, plates *PlateHandler, jobs *JobHandler, audit *AuditHandler) {
	app.Get("/", health.GetInfo)
	app.Get("/health", health.GetHealth)

	// Detection routes
	app.Post("/detect/path", plates.DetectPath)
	app.Post("/detect/upload", plates.DetectUpload)
	app.Post("/detect/batch", plates.DetectBatch)
	app.Post("/detect/async", jobs.DetectAsync)

	// Job routes
	app.Get("/jobs", jobs.ListJobs)
	app.Get("/jobs/stats", jobs.GetJobStats)
	app.Get("/jobs/:id", jobs.GetJob)
	app.Delete("/jobs/:id", jobs.CancelJob)

	// Stored detections
	app.Get("/detections", plates.ListDetections)
	app.Get("/detections/:id", plates.GetDetection)
	app.Get("/detections/:id/history", audit.GetDetectionHistory)

	// Result files
	app.Get("/result/image/:filename", plates.GetResultImage)
	app.Get("/result/json/:filename", plates.GetResultJSON)

	// Audit routes
	app.Get("/audit-logs", audit.GetAuditLogs)
}
