package models

import (
	"testing"
	"time"
)

func TestAccountValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		account Account
		wantErr bool
	}{
		{"instant", Account{PublishPolicy: PolicyInstant}, false},
		{"batch ok", Account{PublishPolicy: PolicyBatch, BatchSize: 5}, false},
		{"batch size one", Account{PublishPolicy: PolicyBatch, BatchSize: 1}, false},
		{"batch size zero", Account{PublishPolicy: PolicyBatch}, true},
		{"batch size over limit", Account{PublishPolicy: PolicyBatch, BatchSize: 11}, true},
		{"scheduled ok", Account{PublishPolicy: PolicyScheduled, ScheduledTimes: []string{"09:00", "18:30"}}, false},
		{"scheduled empty", Account{PublishPolicy: PolicyScheduled}, true},
		{"scheduled bad slot", Account{PublishPolicy: PolicyScheduled, ScheduledTimes: []string{"9am"}}, true},
		{"unknown policy", Account{PublishPolicy: "firehose"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.account.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	account := Account{TokenExpiresAt: now.Add(time.Hour)}
	if account.TokenExpired(now) {
		t.Fatal("token expiring in an hour reported expired")
	}
	if !account.TokenExpired(now.Add(time.Hour)) {
		t.Fatal("token at its expiry instant must report expired")
	}
	if !account.TokenExpired(now.Add(2 * time.Hour)) {
		t.Fatal("token past expiry must report expired")
	}
}
