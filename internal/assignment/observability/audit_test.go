package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "casework/pkg/domain"
	"casework/pkg/platform/audit"
	"casework/pkg/platform/audit/publisher"
	"casework/pkg/platform/audit/store/memory"
	"casework/pkg/requestcontext"
)

func TestLogAudit_EmitsEnrichedEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := publisher.NewPublisher(store)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	staffID := id.UserID(uuid.New())
	actor := id.UserID(uuid.New())
	ctx := requestcontext.WithRequestID(context.Background(), "req-7")
	ctx = requestcontext.WithActor(ctx, actor, id.RoleSupervisor)

	LogAudit(ctx, logger, pub, audit.EventAssignmentOverridden,
		"assignment_id", "a-1",
		"assignee_id", staffID.String(),
		"reason", "covering for consul",
		"decision", "capacity_bypassed",
	)

	events, err := store.ListByUser(ctx, staffID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "a-1", e.Subject)
	assert.Equal(t, "covering for consul", e.Reason)
	assert.Equal(t, "capacity_bypassed", e.Decision)
	assert.Equal(t, "req-7", e.RequestID)
	assert.Equal(t, actor.String(), e.ActorID)
	assert.Equal(t, audit.CategoryCompliance, e.Category)
	assert.Contains(t, buf.String(), "log_type=audit")
}

func TestLogAudit_NilPublisherOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogAudit(context.Background(), logger, nil, audit.EventSLAWarningSent, "assignment_id", "a-2")

	assert.Contains(t, buf.String(), "sla_warning_sent")
}
