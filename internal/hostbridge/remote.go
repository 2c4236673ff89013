package hostbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Wire protocol of the host plugin socket: JSON frames with a method
// name, a request id, and a method-specific payload. The host answers
// every request with a frame carrying the same id.

type requestFrame struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type responseFrame struct {
	ID     uint64          `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Method names understood by the host plugin.
const (
	methodImportFiles  = "store.import_files"
	methodFindViewer   = "viewer.find_or_open"
	methodApplyOverlay = "viewer.apply_overlay"
	methodReloadROIs   = "viewer.reload_rois"
	methodPersistROIs  = "viewer.persist_rois"
	methodSelectStudy  = "browser.select_study"
	methodHasTask      = "registry.has_task"
)

const callTimeout = 30 * time.Second

// RemoteHost speaks to a host plugin over a websocket and implements
// the Store, ViewerProvider, Browser, and TaskRegistry contracts.
type RemoteHost struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	nextID  uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan responseFrame

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the host plugin socket.
func Dial(url string) (*RemoteHost, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing host bridge: %w", err)
	}

	h := &RemoteHost{
		conn:    conn,
		pending: make(map[uint64]chan responseFrame),
		closed:  make(chan struct{}),
	}
	go h.readLoop()
	return h, nil
}

func (h *RemoteHost) readLoop() {
	for {
		_, message, err := h.conn.ReadMessage()
		if err != nil {
			h.shutdown(err)
			return
		}

		var resp responseFrame
		if err := json.Unmarshal(message, &resp); err != nil {
			log.Printf("[hostbridge] invalid frame from host: %v", err)
			continue
		}

		h.pendingMu.Lock()
		ch, ok := h.pending[resp.ID]
		if ok {
			delete(h.pending, resp.ID)
		}
		h.pendingMu.Unlock()

		if !ok {
			log.Printf("[hostbridge] response for unknown request %d", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (h *RemoteHost) shutdown(err error) {
	h.closeOnce.Do(func() {
		if err != nil {
			log.Printf("[hostbridge] connection lost: %v", err)
		}
		close(h.closed)
		h.conn.Close()
	})

	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for id, ch := range h.pending {
		delete(h.pending, id)
		close(ch)
	}
}

// Close tears the connection down; in-flight calls fail.
func (h *RemoteHost) Close() {
	h.shutdown(nil)
}

func (h *RemoteHost) call(method string, params, result interface{}) error {
	ch := make(chan responseFrame, 1)

	h.writeMu.Lock()
	h.nextID++
	id := h.nextID
	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()

	err := h.conn.WriteJSON(requestFrame{ID: id, Method: method, Params: params})
	h.writeMu.Unlock()
	if err != nil {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: connection closed", method)
		}
		if resp.Error != "" {
			return fmt.Errorf("%s: host error: %s", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decoding result: %w", method, err)
			}
		}
		return nil
	case <-time.After(callTimeout):
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
		return fmt.Errorf("%s: no response from host within %v", method, callTimeout)
	case <-h.closed:
		return fmt.Errorf("%s: connection closed", method)
	}
}

func (h *RemoteHost) ImportFiles(paths []string) ([]ObjectID, error) {
	var result struct {
		ObjectIDs []string `json:"object_ids"`
	}
	params := struct {
		Paths []string `json:"paths"`
	}{Paths: paths}
	if err := h.call(methodImportFiles, params, &result); err != nil {
		return nil, err
	}
	ids := make([]ObjectID, len(result.ObjectIDs))
	for i, s := range result.ObjectIDs {
		ids[i] = ObjectID(s)
	}
	return ids, nil
}

// FindOrOpenViewer asks the host for a viewer showing the series the
// given object belongs to; the host opens one if none is. A failed
// lookup degrades to "no viewer" so the run still finishes.
func (h *RemoteHost) FindOrOpenViewer(id ObjectID) (Viewer, bool) {
	var result struct {
		Found bool `json:"found"`
	}
	params := struct {
		ObjectID string `json:"object_id"`
	}{ObjectID: string(id)}
	if err := h.call(methodFindViewer, params, &result); err != nil {
		log.Printf("[hostbridge] viewer lookup failed: %v", err)
		return nil, false
	}
	if !result.Found {
		return nil, false
	}
	return &remoteViewer{host: h}, true
}

func (h *RemoteHost) SelectStudy(id ObjectID) error {
	params := struct {
		ObjectID string `json:"object_id"`
	}{ObjectID: string(id)}
	return h.call(methodSelectStudy, params, nil)
}

func (h *RemoteHost) HasTask(name string) (bool, error) {
	var result struct {
		Present bool `json:"present"`
	}
	params := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := h.call(methodHasTask, params, &result); err != nil {
		return false, err
	}
	return result.Present, nil
}

// remoteViewer proxies viewer operations to the viewer the host
// resolved for the imported series.
type remoteViewer struct {
	host *RemoteHost
}

func (v *remoteViewer) ApplyOverlay(ids []ObjectID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	params := struct {
		ObjectIDs []string `json:"object_ids"`
	}{ObjectIDs: raw}
	return v.host.call(methodApplyOverlay, params, nil)
}

func (v *remoteViewer) ReloadROIs() error  { return v.host.call(methodReloadROIs, nil, nil) }
func (v *remoteViewer) PersistROIs() error { return v.host.call(methodPersistROIs, nil, nil) }
