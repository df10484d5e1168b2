package pagectx

import (
	"encoding/json"
	"fmt"
)

// RuntimeProbeJS is evaluated on the live page to collect what a static
// snapshot cannot see. It always returns a JSON string; page-side
// failures (sandboxed storage, disabled cookies) surface in the error
// field rather than throwing.
const RuntimeProbeJS = `(() => {
  try {
    return JSON.stringify({
      cookie_count: document.cookie ? document.cookie.split(';').length : 0,
      local_storage_keys: window.localStorage ? localStorage.length : 0,
      session_storage_keys: window.sessionStorage ? sessionStorage.length : 0
    });
  } catch (e) {
    return JSON.stringify({error: String(e)});
  }
})()`

// ParseRuntimeProbe decodes a RuntimeProbeJS result. A page-side error
// yields a degraded RuntimeInfo, not a Go error.
func ParseRuntimeProbe(raw string) (RuntimeInfo, error) {
	var probe struct {
		CookieCount        int    `json:"cookie_count"`
		LocalStorageKeys   int    `json:"local_storage_keys"`
		SessionStorageKeys int    `json:"session_storage_keys"`
		Error              string `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return RuntimeInfo{}, fmt.Errorf("pagectx: parse runtime probe: %w", err)
	}
	if probe.Error != "" {
		return RuntimeInfo{ProbeError: probe.Error}, nil
	}
	return RuntimeInfo{
		CookieCount:        probe.CookieCount,
		LocalStorageKeys:   probe.LocalStorageKeys,
		SessionStorageKeys: probe.SessionStorageKeys,
		Probed:             true,
	}, nil
}
