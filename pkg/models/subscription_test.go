package models

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestWebhookSubscriptionIsActive(t *testing.T) {
	sub := WebhookSubscription{}
	assert.True(t, sub.IsActive())

	now := time.Now()
	sub.DeactivatedAt = &now
	assert.False(t, sub.IsActive())
}

func TestDeliveryAttemptCount(t *testing.T) {
	delivery := WebhookSubscriptionDelivery{}
	assert.Equal(t, 0, delivery.AttemptCount())

	delivery.AttemptHTTPResponseStatuses = pq.Int64Array{500, 200}
	assert.Equal(t, 2, delivery.AttemptCount())
}

func TestDeliveryLatestAttemptStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses pq.Int64Array
		want     string
	}{
		{name: "no attempts", statuses: nil, want: "pending"},
		{name: "single success", statuses: pq.Int64Array{200}, want: "success"},
		{name: "created counts as success", statuses: pq.Int64Array{201}, want: "success"},
		{name: "single failure", statuses: pq.Int64Array{500}, want: "error"},
		{name: "network error", statuses: pq.Int64Array{DeliveryStatusNetworkError}, want: "error"},
		{name: "redirect is not success", statuses: pq.Int64Array{302}, want: "error"},
		{name: "latest attempt wins after failures", statuses: pq.Int64Array{500, 503, 200}, want: "success"},
		{name: "latest failure after success", statuses: pq.Int64Array{200, 500}, want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delivery := WebhookSubscriptionDelivery{AttemptHTTPResponseStatuses: tt.statuses}
			assert.Equal(t, tt.want, delivery.LatestAttemptStatus())
		})
	}
}
