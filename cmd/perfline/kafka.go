package main

import (
	"github.com/getsentry/perfline/internal/report"
)

type (
	// HotspotsKafkaMessage is representing the struct we send to Kafka when a report is stored
	HotspotsKafkaMessage struct {
		Environment string           `json:"environment,omitempty"`
		ID          string           `json:"report_id"`
		ProjectRoot string           `json:"project_root"`
		Hotspots    []report.Hotspot `json:"hotspots"`
		TotalHits   uint64           `json:"total_hits"`
		Timestamp   int64            `json:"timestamp"`
	}
)

func buildHotspotsKafkaMessage(r report.Report, environment string) HotspotsKafkaMessage {
	return HotspotsKafkaMessage{
		Environment: environment,
		ID:          r.ID,
		ProjectRoot: r.ProjectRoot,
		Hotspots:    r.Hotspots,
		TotalHits:   r.TotalHits,
		Timestamp:   r.CreatedAt,
	}
}
