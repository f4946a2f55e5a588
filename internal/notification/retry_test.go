package notification

import (
	"testing"
	"time"
)

func TestShouldCreateResponseRequestRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name string
		in   RetryInput
		want bool
	}{
		{
			name: "no prior request",
			in:   RetryInput{Now: now},
			want: true,
		},
		{
			name: "reply after latest request",
			in: RetryInput{
				LatestRequestCreatedAt:   ts(-1 * time.Hour),
				LatestRequestDeliveredAt: ts(-50 * time.Minute),
				LatestReplyCreatedAt:     ts(-30 * time.Minute),
				Now:                      now,
			},
			want: true,
		},
		{
			name: "reply before latest request does not count",
			in: RetryInput{
				LatestRequestCreatedAt:   ts(-1 * time.Hour),
				LatestRequestDeliveredAt: ts(-50 * time.Minute),
				LatestReplyCreatedAt:     ts(-2 * time.Hour),
				Now:                      now,
			},
			want: false,
		},
		{
			name: "undelivered request blocks",
			in: RetryInput{
				LatestRequestCreatedAt: ts(-10 * time.Hour),
				Now:                    now,
			},
			want: false,
		},
		{
			name: "delivered, no reply, inside cooldown",
			in: RetryInput{
				LatestRequestCreatedAt:   ts(-1 * time.Hour),
				LatestRequestDeliveredAt: ts(-50 * time.Minute),
				Now:                      now,
			},
			want: false,
		},
		{
			name: "delivered, no reply, past cooldown",
			in: RetryInput{
				LatestRequestCreatedAt:   ts(-5 * time.Hour),
				LatestRequestDeliveredAt: ts(-4 * time.Hour),
				Now:                      now,
			},
			want: true,
		},
		{
			name: "exactly at cooldown boundary allows",
			in: RetryInput{
				LatestRequestCreatedAt:   ts(-4 * time.Hour),
				LatestRequestDeliveredAt: ts(-3 * time.Hour),
				Now:                      now,
			},
			want: true,
		},
		{
			name: "custom cooldown",
			in: RetryInput{
				LatestRequestCreatedAt:   ts(-30 * time.Minute),
				LatestRequestDeliveredAt: ts(-25 * time.Minute),
				Now:                      now,
				Cooldown:                 15 * time.Minute,
			},
			want: true,
		},
		{
			name: "undelivered blocks even with old reply",
			in: RetryInput{
				LatestRequestCreatedAt: ts(-10 * time.Hour),
				LatestReplyCreatedAt:   ts(-20 * time.Hour),
				Now:                    now,
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldCreateResponseRequestRetry(tt.in); got != tt.want {
				t.Errorf("ShouldCreateResponseRequestRetry(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
