package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope_Encode(t *testing.T) {
	env, err := NewEnvelope(TypeSubscribe, Subscription{Topic: "dashboard_updated"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	frame, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := `{"type":"subscribe","data":{"topic":"dashboard_updated","filters":{}}}`
	if string(frame) != want {
		t.Errorf("Encode() = %s, want %s", frame, want)
	}
}

func TestNewEnvelope_NilData(t *testing.T) {
	env, err := NewEnvelope(TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if string(env.Data) != "{}" {
		t.Errorf("Data = %s, want {}", env.Data)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		check   func(t *testing.T, env Envelope)
	}{
		{
			name:  "connection established",
			frame: `{"type":"connection_established","data":{"connectionId":"c1","user":{"id":"u1"}}}`,
			check: func(t *testing.T, env Envelope) {
				var data ConnectionEstablished
				if err := env.Unmarshal(&data); err != nil {
					t.Fatalf("Unmarshal failed: %v", err)
				}
				if data.ConnectionID != "c1" {
					t.Errorf("ConnectionID = %q, want c1", data.ConnectionID)
				}
				if string(data.User) != `{"id":"u1"}` {
					t.Errorf("User = %s", data.User)
				}
			},
		},
		{
			name:  "subscription data keeps raw payload",
			frame: `{"type":"subscription_data","data":{"topic":"t","payload":{"a":[1,2]}}}`,
			check: func(t *testing.T, env Envelope) {
				var data SubscriptionData
				if err := env.Unmarshal(&data); err != nil {
					t.Fatalf("Unmarshal failed: %v", err)
				}
				if data.Topic != "t" || string(data.Payload) != `{"a":[1,2]}` {
					t.Errorf("data = %+v", data)
				}
			},
		},
		{
			name:  "no data",
			frame: `{"type":"pong"}`,
			check: func(t *testing.T, env Envelope) {
				var p Pong
				if err := env.Unmarshal(&p); err != nil {
					t.Errorf("Unmarshal of empty data failed: %v", err)
				}
			},
		},
		{name: "not json", frame: `not json`, wantErr: true},
		{name: "missing type", frame: `{"data":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Decode() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			tt.check(t, env)
		})
	}
}

func TestSubscription_Key(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Subscription
		equal bool
	}{
		{
			name:  "nil and empty filters",
			a:     Subscription{Topic: "x"},
			b:     Subscription{Topic: "x", Filters: map[string]any{}},
			equal: true,
		},
		{
			name:  "same filters different insertion",
			a:     Subscription{Topic: "x", Filters: map[string]any{"team": "a", "user": "b"}},
			b:     Subscription{Topic: "x", Filters: map[string]any{"user": "b", "team": "a"}},
			equal: true,
		},
		{
			name:  "int and float numbers",
			a:     Subscription{Topic: "x", Filters: map[string]any{"limit": 10}},
			b:     Subscription{Topic: "x", Filters: map[string]any{"limit": 10.0}},
			equal: true,
		},
		{
			name:  "different topic",
			a:     Subscription{Topic: "x"},
			b:     Subscription{Topic: "y"},
			equal: false,
		},
		{
			name:  "different filter value",
			a:     Subscription{Topic: "x", Filters: map[string]any{"team": "a"}},
			b:     Subscription{Topic: "x", Filters: map[string]any{"team": "b"}},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal() = %v, want %v (keys %s vs %s)", got, tt.equal, tt.a.Key(), tt.b.Key())
			}
		})
	}
}

func TestSubscription_KeyMatchesDecodedConfirmation(t *testing.T) {
	sub := Subscription{Topic: "metric_updated", Filters: map[string]any{"teamId": "t1"}}

	var echoed Subscription
	if err := json.Unmarshal([]byte(`{"filters":{"teamId":"t1"},"topic":"metric_updated"}`), &echoed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sub.Key() != echoed.Key() {
		t.Errorf("Key() = %s, echoed %s", sub.Key(), echoed.Key())
	}
}

func TestSubscription_Clone(t *testing.T) {
	sub := Subscription{Topic: "x", Filters: map[string]any{"a": 1}}
	c := sub.Clone()
	c.Filters["a"] = 2

	if sub.Filters["a"] != 1 {
		t.Error("Clone shares filter map with original")
	}
}

func TestSubscription_CloneIsDeep(t *testing.T) {
	sub := Subscription{Topic: "x", Filters: map[string]any{
		"scope": map[string]any{"team": "t1"},
		"ids":   []any{"a", "b"},
		"tags":  []string{"p1"},
	}}
	key := sub.Key()

	c := sub.Clone()
	c.Filters["scope"].(map[string]any)["team"] = "t2"
	c.Filters["ids"].([]any)[0] = "z"
	c.Filters["tags"].([]string)[0] = "p9"

	if sub.Key() != key {
		t.Errorf("Key() = %s after mutating clone, want %s", sub.Key(), key)
	}
	if (Subscription{Topic: "x"}).Clone().Filters != nil {
		t.Error("Clone of nil filters is not nil")
	}
}
