package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(base string) *Dispatcher {
	return New(base,
		WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond}),
		WithLogger(zerolog.Nop()),
	)
}

func TestSendMovement(t *testing.T) {
	var gotBody map[string]any
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/movimiento", r.URL.Path)
		assert.Equal(t, "1", r.Header.Get("ngrok-skip-browser-warning"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"evento_id": 42})
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), NewMovement(3, 150))

	require.True(t, res.OK, "err: %v", res.Err)
	assert.Equal(t, "42", res.EventID)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, 3, res.Code)
	assert.Equal(t, map[string]any{
		"status_clave":   float64(3),
		"velocidad":      float64(100),
		"dispositivo_id": float64(1),
		"cliente_id":     float64(1),
	}, gotBody)
}

func TestSendMovementWithoutSpeed(t *testing.T) {
	var raw []byte
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"evento_id":"e-7"}`))
	}))
	defer s.Close()

	d := New(s.URL, WithLogger(zerolog.Nop()), WithIDs(4, 9))
	res := d.Send(context.Background(), Movement{Code: 2})

	require.True(t, res.OK)
	assert.Equal(t, "e-7", res.EventID)
	assert.JSONEq(t, `{"status_clave":2,"dispositivo_id":4,"cliente_id":9}`, string(raw))
}

func TestSendObstacle(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/obstaculo", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"obstaculo_clave":4,"dispositivo_id":1,"cliente_id":1}`, string(b))
		_, _ = w.Write([]byte(`{"evento_id":11}`))
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), Obstacle{Code: 4})
	require.True(t, res.OK)
	assert.Equal(t, ActionObstacle, res.Action)
	assert.Equal(t, "11", res.EventID)
}

func TestSendDemo(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/demo", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("n"))
		b, _ := io.ReadAll(r.Body)
		assert.Empty(t, b)
		_, _ = w.Write([]byte(`{"insertados":5}`))
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), Demo{Count: 5})
	require.True(t, res.OK)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, 5, res.Count)
	assert.Empty(t, res.EventID)
}

func TestSendNon2xx(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "dispositivo no existe", http.StatusUnprocessableEntity)
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), NewMovement(1, 10))

	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
	assert.ErrorIs(t, res.Err, ErrStatus)
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(res.Err))
	assert.Contains(t, res.Err.Error(), "dispositivo no existe")
	assert.Equal(t, "http_error", Outcome(res))
}

func TestSendTransportFailure(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	base := s.URL
	s.Close()

	res := newTestDispatcher(base).Send(context.Background(), Demo{Count: 1})

	assert.False(t, res.OK)
	assert.Zero(t, res.Status)
	assert.ErrorIs(t, res.Err, ErrTransport)
	var urlErr *url.Error
	assert.True(t, errors.As(res.Err, &urlErr))
	assert.Equal(t, "transport_error", Outcome(res))
}

func TestSendTimeoutIsTransportFailure(t *testing.T) {
	release := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer s.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := newTestDispatcher(s.URL).Send(ctx, Obstacle{Code: 1})

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrTransport)
}

func TestSendBadResponse(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>tunnel warning</html>"))
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), Demo{Count: 2})

	assert.False(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.ErrorIs(t, res.Err, ErrBadResponse)
	assert.Equal(t, "bad_response", Outcome(res))
}

func TestSendInvalidActionMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), Demo{Count: 0})

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrInvalidAction)
	assert.Zero(t, calls.Load())
}

func TestSendNilActionIsInvalid(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer s.Close()

	d := newTestDispatcher(s.URL)
	for name, a := range map[string]Action{
		"nil":          nil,
		"nil movement": (*Movement)(nil),
		"nil obstacle": (*Obstacle)(nil),
		"nil demo":     (*Demo)(nil),
	} {
		t.Run(name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() { res = d.Send(context.Background(), a) })
			assert.False(t, res.OK)
			assert.ErrorIs(t, res.Err, ErrInvalidAction)
			assert.Equal(t, "invalid", Outcome(res))
		})
	}
	assert.Zero(t, calls.Load())
}

func TestSendPointerActionsGetDefaults(t *testing.T) {
	var raw []byte
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"evento_id":8}`))
	}))
	defer s.Close()

	d := New(s.URL, WithLogger(zerolog.Nop()), WithIDs(4, 9))

	res := d.Send(context.Background(), &Movement{Code: 2})
	require.True(t, res.OK, "err: %v", res.Err)
	assert.Equal(t, ActionMovement, res.Action)
	assert.Equal(t, 2, res.Code)
	assert.JSONEq(t, `{"status_clave":2,"dispositivo_id":4,"cliente_id":9}`, string(raw))

	res = d.Send(context.Background(), &Obstacle{Code: 1})
	require.True(t, res.OK, "err: %v", res.Err)
	assert.Equal(t, ActionObstacle, res.Action)
	assert.JSONEq(t, `{"obstaculo_clave":1,"dispositivo_id":4,"cliente_id":9}`, string(raw))
}

func TestSendIsSingleShot(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer s.Close()

	res := newTestDispatcher(s.URL).Send(context.Background(), NewMovement(1, 50))
	assert.False(t, res.OK)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRecentMovements(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/ultimos-mov", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
		assert.Equal(t, "no-cache", r.Header.Get("Pragma"))
		assert.Equal(t, "1", r.Header.Get("ngrok-skip-browser-warning"))
		_, _ = w.Write([]byte(`[{"fecha_hora":"2024-01-01T00:00:00Z","movimiento":"FWD","dispositivo":"D1"}]`))
	}))
	defer s.Close()

	recs, err := newTestDispatcher(s.URL).RecentMovements(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2024-01-01T00:00:00Z", recs[0].FechaHora)
	assert.Equal(t, "FWD", recs[0].Movimiento)
	assert.Equal(t, "D1", recs[0].Dispositivo)
}

func TestRecentObstacles(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ultimos-obstaculos", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"obstaculo_clave":2,"obstaculo_texto":"pared"},{"obstaculo_clave":1}]`))
	}))
	defer s.Close()

	recs, err := newTestDispatcher(s.URL).RecentObstacles(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, json.Number("2"), recs[0].ObstaculoClave)
	assert.Equal(t, "pared", recs[0].ObstaculoTexto)
	assert.Empty(t, recs[1].ObstaculoTexto)
}

func TestRecentMovementsErrors(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer s.Close()

	_, err := newTestDispatcher(s.URL).RecentMovements(context.Background(), 10)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, 0, ClampSpeed(-5))
	assert.Equal(t, 55, ClampSpeed(55))
	assert.Equal(t, 100, ClampSpeed(101))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Sentinel: ErrStatus, Operation: "movement", Status: 500, Body: "boom"}
	assert.Equal(t, "dispatch: movement: backend: non-2xx status (HTTP 500): boom", err.Error())
	assert.ErrorIs(t, err, ErrStatus)
	assert.NotErrorIs(t, err, ErrTransport)
}
