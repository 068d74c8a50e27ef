package main

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFleetStaysInBounds(t *testing.T) {
	fleet := NewFleet(3, rand.New(rand.NewSource(1)))
	for i := 0; i < 5000; i++ {
		s := fleet.Next(i % 3)
		require.GreaterOrEqual(t, s.Temperature, -20.0)
		require.LessOrEqual(t, s.Temperature, 45.0)
		require.GreaterOrEqual(t, s.Pressure, 950.0)
		require.LessOrEqual(t, s.Pressure, 1050.0)
		require.GreaterOrEqual(t, s.Humidity, 5.0)
		require.LessOrEqual(t, s.Humidity, 95.0)
	}
}

func TestHTTPPublisherSendsPositionalBody(t *testing.T) {
	var mu sync.Mutex
	got := map[string]positionalBody{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body positionalBody
		if err := json.Unmarshal(b, &body); err != nil {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		mu.Lock()
		got[r.Method+" "+r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL)
	errs := Tick(context.Background(), NewFleet(2, rand.New(rand.NewSource(2))), pub)
	require.Empty(t, errs)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	require.Contains(t, got, "POST /api/data/0")
	require.Contains(t, got, "POST /api/data/1")
	require.Greater(t, got["POST /api/data/1"].Measurements[1].Value, 900.0, "druhý slot je tlak")
}

func TestHTTPPublisherReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Invalid input data."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	errs := Tick(context.Background(), NewFleet(2, rand.New(rand.NewSource(3))), NewHTTPPublisher(srv.URL))
	require.Len(t, errs, 2)
	require.Contains(t, errs[0].Error(), "400")
}

func TestTopic(t *testing.T) {
	require.Equal(t, "env/7/reading", Topic("env", 7))
}
