package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"uploaded to converted", StatusUploaded, StatusConverted, true},
		{"converted to embedded", StatusConverted, StatusEmbedded, true},
		{"embedded to indexed", StatusEmbedded, StatusIndexed, true},
		{"indexed to completed", StatusIndexed, StatusCompleted, true},

		{"skip a stage", StatusUploaded, StatusEmbedded, false},
		{"skip to completed", StatusConverted, StatusCompleted, false},
		{"backwards", StatusEmbedded, StatusConverted, false},
		{"same status", StatusConverted, StatusConverted, false},
		{"completed is terminal", StatusCompleted, StatusUploaded, false},

		{"any forward state may fail", StatusUploaded, StatusFailed, true},
		{"indexed may fail", StatusIndexed, StatusFailed, true},
		{"failed cannot advance", StatusFailed, StatusConverted, false},
		{"failed cannot re-fail", StatusFailed, StatusFailed, false},

		{"unknown status", Status("bogus"), StatusConverted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to))
		})
	}
}
