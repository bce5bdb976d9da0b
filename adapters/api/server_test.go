package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ivquant/ports"
)

type lineEst struct{}

func (lineEst) Effect(x float64, covars []float64) (float64, error) { return 2*x + 1, nil }
func (lineEst) AvgEffect(x float64) (float64, error)                { return 2*x + 1, nil }

type bandEst struct{ lineEst }

func (bandEst) EffectWithInterval(x float64, covars []float64, alpha float64) (ports.EffectInterval, error) {
	return ports.EffectInterval{Lower: 2*x + 1 - 0.5, Point: 2*x + 1, Upper: 2*x + 1 + 0.5}, nil
}

func get(t *testing.T, h http.Handler, url string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %v (%s)", err, rec.Body.String())
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	h := NewServer(lineEst{}, nil).Router()
	rec, body := get(t, h, "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: code %d body %v", rec.Code, body)
	}
}

func TestEffectPoint(t *testing.T) {
	h := NewServer(lineEst{}, nil).Router()
	rec, body := get(t, h, "/effect?x=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d", rec.Code)
	}
	if body["y_do_x"] != 5.0 {
		t.Errorf("expected effect 5, got %v", body["y_do_x"])
	}
	if _, hasLower := body["y_do_x_lower"]; hasLower {
		t.Error("point queries should not carry interval fields")
	}
}

func TestEffectWithInterval(t *testing.T) {
	h := NewServer(bandEst{}, nil).Router()
	rec, body := get(t, h, "/effect?x=1&alpha=0.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d body %v", rec.Code, body)
	}
	if body["y_do_x"] != 3.0 || body["y_do_x_lower"] != 2.5 || body["y_do_x_upper"] != 3.5 {
		t.Errorf("interval body wrong: %v", body)
	}
}

func TestEffectBadRequests(t *testing.T) {
	h := NewServer(lineEst{}, nil).Router()

	cases := []string{
		"/effect",                  // missing x
		"/effect?x=abc",            // unparseable x
		"/effect?x=1&covars=a,b",   // unparseable covars
		"/effect?x=1&alpha=2",      // alpha out of range
		"/effect?x=1&alpha=0.1",    // intervals unsupported by this estimator
	}
	for _, url := range cases {
		rec, body := get(t, h, url)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d (%v)", url, rec.Code, body)
		}
		if body["code"] == "" {
			t.Errorf("%s: error responses should carry a code", url)
		}
	}
}
