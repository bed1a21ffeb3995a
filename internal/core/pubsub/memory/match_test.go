package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"docstore.tasks.update_by_query.completed", "docstore.tasks.update_by_query.completed", true},
		{"docstore.tasks.*.completed", "docstore.tasks.delete_by_query.completed", true},
		{"docstore.tasks.*.completed", "docstore.tasks.delete_by_query.failed", false},
		{"docstore.tasks.>", "docstore.tasks.update_by_query.running", true},
		{"docstore.tasks.>", "docstore.tasks", false},
		{"docstore.*", "docstore.tasks.update_by_query", false},
		{">", "anything.at.all", true},
		{"a.b", "a.b.c", false},
		{"a.b.c", "a.b", false},
		{"", "a", false},
		{"a", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject))
		})
	}
}
