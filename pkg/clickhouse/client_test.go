package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ClientConfig
		scheme string
		query  map[string]string
	}{
		{
			name:   "native with timeouts",
			cfg:    ClientConfig{Host: "ch", Port: 9000, Database: "pricecast", User: "u", Password: "p", DialTimeout: 5 * time.Second, MaxExecTime: 30 * time.Second},
			scheme: "clickhouse",
			query:  map[string]string{"dial_timeout": "5s", "max_execution_time": "30"},
		},
		{
			name:   "http async insert",
			cfg:    ClientConfig{Host: "ch", Port: 8123, Database: "pricecast", UseHTTP: true, AsyncInsert: true, WaitForAsync: true},
			scheme: "http",
			query:  map[string]string{"async_insert": "1", "wait_for_async_insert": "1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(BuildDSN(tt.cfg))
			if err != nil {
				t.Fatalf("parse dsn: %v", err)
			}
			if u.Scheme != tt.scheme || u.Path != "/pricecast" {
				t.Fatalf("unexpected dsn %s", u)
			}
			for k, v := range tt.query {
				if got := u.Query().Get(k); got != v {
					t.Fatalf("%s: got %q want %q", k, got, v)
				}
			}
		})
	}
}
