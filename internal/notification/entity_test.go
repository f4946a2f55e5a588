package notification

import (
	"testing"
	"time"
)

func TestLifecycle(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("read is idempotent", func(t *testing.T) {
		n := &Notification{}
		if !n.Read(base) {
			t.Fatal("first read should change the notification")
		}
		if n.Read(base.Add(time.Minute)) {
			t.Error("second read should be a no-op")
		}
		if !n.ReadAt.Equal(base) {
			t.Errorf("ReadAt = %v, want %v", n.ReadAt, base)
		}
	})

	t.Run("read after delivery end restamps", func(t *testing.T) {
		n := &Notification{}
		n.Read(base)
		if err := n.EndDelivery(base.Add(time.Minute)); err != nil {
			t.Fatalf("EndDelivery: %v", err)
		}
		retry := base.Add(time.Hour)
		if !n.Read(retry) {
			t.Fatal("read after delivery end should restamp")
		}
		if n.DeliveryEndedAt != nil {
			t.Error("DeliveryEndedAt should be cleared by the new read")
		}
		if !n.ReadAt.Equal(retry) {
			t.Errorf("ReadAt = %v, want %v", n.ReadAt, retry)
		}
	})

	t.Run("deliver is terminal", func(t *testing.T) {
		n := &Notification{}
		n.Read(base)
		if !n.Deliver(base.Add(time.Minute)) {
			t.Fatal("first deliver should change the notification")
		}
		first := *n.DeliveredAt
		if n.Deliver(base.Add(time.Hour)) {
			t.Error("second deliver should be a no-op")
		}
		if !n.DeliveredAt.Equal(first) {
			t.Error("DeliveredAt must never move once set")
		}
		if err := n.EndDelivery(base.Add(2 * time.Hour)); err == nil {
			t.Error("EndDelivery after delivery should fail")
		}
	})

	t.Run("end delivery requires a read", func(t *testing.T) {
		n := &Notification{}
		if err := n.EndDelivery(base); err == nil {
			t.Error("EndDelivery before read should fail")
		}
	})

	t.Run("delivered clears a pending delivery end", func(t *testing.T) {
		n := &Notification{}
		n.Read(base)
		if err := n.EndDelivery(base.Add(time.Minute)); err != nil {
			t.Fatalf("EndDelivery: %v", err)
		}
		n.Read(base.Add(time.Hour))
		n.Deliver(base.Add(time.Hour + time.Minute))
		if n.DeliveryEndedAt != nil {
			t.Error("DeliveryEndedAt should be nil once delivered")
		}
		if !n.Delivered() {
			t.Error("Delivered() should be true")
		}
	})
}
