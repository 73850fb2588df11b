package mongostore

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestIndexModels_Collections(t *testing.T) {
	models := IndexModels()
	for _, coll := range []string{Users, InstantRequests, Notifications, ConnectionRequests} {
		if len(models[coll]) == 0 {
			t.Errorf("expected indexes for %s", coll)
		}
	}
}

func TestIndexModels_PendingDoctorIsUniquePartial(t *testing.T) {
	var found bool
	for _, m := range IndexModels()[InstantRequests] {
		if m.Options == nil || m.Options.Name == nil || *m.Options.Name != "uq_instant_requests_pending_doctor" {
			continue
		}
		found = true
		if m.Options.Unique == nil || !*m.Options.Unique {
			t.Error("expected pending-doctor index to be unique")
		}
		filter, ok := m.Options.PartialFilterExpression.(bson.M)
		if !ok || filter["status"] != "pending" {
			t.Errorf("unexpected partial filter %v", m.Options.PartialFilterExpression)
		}
	}
	if !found {
		t.Fatal("pending-doctor index missing")
	}
}
