package main

import (
	"testing"

	"kasirinaja/terminal/internal/config"
)

func TestCheckWorkerConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"no redis", config.Config{StoreDriver: config.DriverSQLite}, true},
		{"memory store", config.Config{StoreDriver: config.DriverMemory, RedisAddr: "127.0.0.1:6379"}, true},
		{"sqlite with redis", config.Config{StoreDriver: config.DriverSQLite, RedisAddr: "127.0.0.1:6379"}, false},
	}
	for _, tc := range cases {
		err := checkWorkerConfig(tc.cfg)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: wantErr=%v, got %v", tc.name, tc.wantErr, err)
		}
	}
}
