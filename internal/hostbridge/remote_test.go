package hostbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeHostPlugin answers bridge requests with canned results per method.
func fakeHostPlugin(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			var req requestFrame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := responseFrame{ID: req.ID}
			if result, ok := results[req.Method]; ok {
				resp.Result, _ = json.Marshal(result)
			} else {
				resp.Error = "unknown method " + req.Method
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRemoteHost_ImportAndRegistry(t *testing.T) {
	server := fakeHostPlugin(t, map[string]interface{}{
		methodImportFiles: map[string][]string{"object_ids": {"obj-1", "obj-2"}},
		methodHasTask:     map[string]bool{"present": true},
	})
	defer server.Close()

	host, err := Dial(wsURL(server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer host.Close()

	ids, err := host.ImportFiles([]string{"a.dcm", "b.dcm"})
	if err != nil {
		t.Fatalf("ImportFiles: %v", err)
	}
	if len(ids) != 2 || ids[0] != "obj-1" || ids[1] != "obj-2" {
		t.Errorf("ids = %v, want [obj-1 obj-2]", ids)
	}

	present, err := host.HasTask("Region Conversion")
	if err != nil {
		t.Fatalf("HasTask: %v", err)
	}
	if !present {
		t.Error("HasTask = false, want true")
	}
}

func TestRemoteHost_HostErrorSurfaced(t *testing.T) {
	server := fakeHostPlugin(t, nil)
	defer server.Close()

	host, err := Dial(wsURL(server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer host.Close()

	if _, err := host.ImportFiles([]string{"a.dcm"}); err == nil {
		t.Error("expected host error to surface")
	}
}

func TestRemoteHost_ViewerProxy(t *testing.T) {
	server := fakeHostPlugin(t, map[string]interface{}{
		methodFindViewer:   map[string]bool{"found": true},
		methodApplyOverlay: struct{}{},
		methodReloadROIs:   struct{}{},
		methodPersistROIs:  struct{}{},
	})
	defer server.Close()

	host, err := Dial(wsURL(server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer host.Close()

	viewer, ok := host.FindOrOpenViewer("obj-1")
	if !ok {
		t.Fatal("FindOrOpenViewer = false, want viewer")
	}
	if err := viewer.ApplyOverlay([]ObjectID{"obj-1"}); err != nil {
		t.Errorf("ApplyOverlay: %v", err)
	}
	if err := viewer.ReloadROIs(); err != nil {
		t.Errorf("ReloadROIs: %v", err)
	}
	if err := viewer.PersistROIs(); err != nil {
		t.Errorf("PersistROIs: %v", err)
	}
}
