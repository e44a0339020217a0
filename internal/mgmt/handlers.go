package mgmt

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
	"github.com/ssw-net/vswitchd-core/pkg/portset"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a core error to an HTTP status and JSON error body. The
// Kind -> status table follows §6's "exit codes surfaced to management".
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	if de, ok := dperrors.As(err); ok {
		kind = string(de.Kind)
		switch de.Kind {
		case dperrors.KindNotFound, dperrors.KindPortNotFound:
			status = http.StatusNotFound
		case dperrors.KindExists, dperrors.KindPortExists:
			status = http.StatusConflict
		case dperrors.KindInvalid, dperrors.KindMaskInvalid:
			status = http.StatusBadRequest
		case dperrors.KindBusy:
			status = http.StatusServiceUnavailable
		case dperrors.KindUnsupported, dperrors.KindUnsupportedAction:
			status = http.StatusNotImplemented
		case dperrors.KindCapacityExceeded, dperrors.KindNoMemory:
			status = http.StatusInsufficientStorage
		case dperrors.KindPortLocalProtected:
			status = http.StatusForbidden
		case dperrors.KindGateClosed:
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func pathUint32(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, dperrors.Invalid("mgmt", "pathParam", "invalid "+name)
	}
	return uint32(v), nil
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, dperrors.Invalid("mgmt", "pathParam", "invalid "+name)
	}
	return v, nil
}

// portDTO is the JSON projection of a portset.Port, excluding the opaque
// driver handle.
type portDTO struct {
	Number    uint32 `json:"number"`
	Name      string `json:"name"`
	DevType   string `json:"dev_type"`
	NumaID    int    `json:"numa_id"`
	PollMode  bool   `json:"poll_mode"`
	RxQueues  int    `json:"rx_queues"`
	RxqWorker []int  `json:"rxq_worker,omitempty"`
}

func portToDTO(p *portset.Port) portDTO {
	return portDTO{
		Number:    p.Number,
		Name:      p.Name,
		DevType:   p.DevType,
		NumaID:    p.NumaID,
		PollMode:  p.PollMode,
		RxQueues:  p.RxQueues,
		RxqWorker: p.RxqWorker,
	}
}

// listPortsHandler returns every registered port.
func (s *Server) listPortsHandler(w http.ResponseWriter, r *http.Request) {
	ports := s.dp.Ports()
	out := make([]portDTO, 0, len(ports))
	for _, p := range ports {
		out = append(out, portToDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type addPortRequest struct {
	Name     string `json:"name"`
	Number   uint32 `json:"number"`
	DevType  string `json:"dev_type"`
	NumaID   int    `json:"numa_id"`
	PollMode bool   `json:"poll_mode"`
	RxQueues int    `json:"rx_queues"`
}

// addPortHandler attaches a new port to the datapath (§4.7 add-port).
func (s *Server) addPortHandler(w http.ResponseWriter, r *http.Request) {
	var req addPortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "addPort", "malformed request body"))
		return
	}
	if req.RxQueues <= 0 {
		req.RxQueues = 1
	}

	p, err := s.dp.AddPort(req.Name, req.Number, req.DevType, req.NumaID, req.PollMode, req.RxQueues)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, portToDTO(p))
}

// delPortHandler detaches a port (§4.7 del-port).
func (s *Server) delPortHandler(w http.ResponseWriter, r *http.Request) {
	number, err := pathUint32(r, "number")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dp.DelPort(number); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renamePortRequest struct {
	Name string `json:"name"`
}

// renamePortHandler renames a port without touching worker membership.
func (s *Server) renamePortHandler(w http.ResponseWriter, r *http.Request) {
	number, err := pathUint32(r, "number")
	if err != nil {
		writeError(w, err)
		return
	}
	var req renamePortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "renamePort", "malformed request body"))
		return
	}
	if err := s.dp.RenamePort(number, req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renumberPortRequest struct {
	NewNumber uint32 `json:"new_number"`
}

// renumberPortHandler reassigns a port's number (§8 Scenario E).
func (s *Server) renumberPortHandler(w http.ResponseWriter, r *http.Request) {
	oldNumber, err := pathUint32(r, "number")
	if err != nil {
		writeError(w, err)
		return
	}
	var req renumberPortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "renumberPort", "malformed request body"))
		return
	}
	if err := s.dp.RenumberPort(oldNumber, req.NewNumber); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type coreMaskRequest struct {
	Mask string `json:"mask"`
}

// setCoreMaskHandler updates the requested core mask and reconciles the
// worker fleet (§4.7 "configure core mask").
func (s *Server) setCoreMaskHandler(w http.ResponseWriter, r *http.Request) {
	var req coreMaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "setCoreMask", "malformed request body"))
		return
	}
	if err := s.dp.SetCoreMask(req.Mask); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listWorkersHandler returns the currently running worker ids.
func (s *Server) listWorkersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dp.WorkerIDs())
}

// workerStatsHandler returns one worker's baseline-subtracted cycle and
// flow-table occupancy stats (§6 "inspect worker statistics").
func (s *Server) workerStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.dp.WorkerStats(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// resetWorkerStatsHandler captures a new baseline for a worker's stats
// (§6 "zero them with a baseline-subtraction semantic").
func (s *Server) resetWorkerStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dp.ResetWorkerStats(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executePacketRequest struct {
	Frame   []byte      `json:"frame"`
	Actions []actionDTO `json:"actions"`
}

// executePacketHandler drives a specific worker's executor directly with
// caller-supplied actions, bypassing flow lookup (§4.7 "execute single
// packet" debug operation). Worker id -1 targets the non-worker
// pseudo-thread.
func (s *Server) executePacketHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req executePacketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "executePacket", "malformed request body"))
		return
	}
	acts, err := dtoToList(req.Actions)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dp.ExecutePacket(id, req.Frame, acts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flowDTO struct {
	Ufid           string       `json:"ufid,omitempty"`
	Key            flowkey.Key  `json:"key"`
	Mask           flowkey.Mask `json:"mask"`
	Actions        []actionDTO  `json:"actions,omitempty"`
	Packets        uint64       `json:"packets"`
	Bytes          uint64       `json:"bytes"`
	TCPFlags       uint32       `json:"tcp_flags"`
	LastUsedMillis int64        `json:"last_used_millis"`
}

// addFlowHandler installs a flow across the worker fleet (§6 "flow put").
func (s *Server) addFlowHandler(w http.ResponseWriter, r *http.Request) {
	var req flowDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "addFlow", "malformed request body"))
		return
	}
	acts, err := dtoToList(req.Actions)
	if err != nil {
		writeError(w, err)
		return
	}
	ufid, err := s.dp.AddFlow(req.Key, req.Mask, acts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ufid": ufidToString(ufid)})
}

// getFlowHandler returns one flow's aggregated key/mask/actions/stats (§6
// "flow get").
func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	ufid, err := ufidFromString(mux.Vars(r)["ufid"])
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.dp.GetFlow(ufid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowDTO{
		Ufid:           ufidToString(entry.Ufid),
		Key:            entry.Key,
		Mask:           entry.Mask,
		Actions:        listToDTO(entry.Actions),
		Packets:        entry.Stats.Packets,
		Bytes:          entry.Stats.Bytes,
		TCPFlags:       entry.Stats.TCPFlags,
		LastUsedMillis: entry.Stats.LastUsedMillis,
	})
}

type modifyFlowRequest struct {
	Actions []actionDTO `json:"actions"`
}

// modifyFlowHandler replaces a flow's action list (§6 "flow modify").
func (s *Server) modifyFlowHandler(w http.ResponseWriter, r *http.Request) {
	ufid, err := ufidFromString(mux.Vars(r)["ufid"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req modifyFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dperrors.Invalid("mgmt", "modifyFlow", "malformed request body"))
		return
	}
	acts, err := dtoToList(req.Actions)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dp.ModifyFlow(ufid, acts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteFlowHandler removes a flow (§6 "flow delete").
func (s *Server) deleteFlowHandler(w http.ResponseWriter, r *http.Request) {
	ufid, err := ufidFromString(mux.Vars(r)["ufid"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dp.DeleteFlow(ufid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dumpFlowsHandler returns a page of installed flows, honoring the
// cursor/terse/limit query parameters (§4.4's terse dump mode).
func (s *Server) dumpFlowsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor, _ := strconv.ParseUint(q.Get("cursor"), 10, 32)
	limit, _ := strconv.Atoi(q.Get("limit"))
	terse := q.Get("terse") == "true"

	entries, next := s.dp.DumpFlows(uint32(cursor), terse, limit)
	out := make([]flowDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, flowDTO{
			Ufid:           ufidToString(e.Ufid),
			Key:            e.Key,
			Mask:           e.Mask,
			Actions:        listToDTO(e.Actions),
			Packets:        e.Stats.Packets,
			Bytes:          e.Stats.Bytes,
			TCPFlags:       e.Stats.TCPFlags,
			LastUsedMillis: e.Stats.LastUsedMillis,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flows":  out,
		"cursor": next,
	})
}

// snapshotFlowsHandler returns every installed flow as a single
// zstd-compressed artifact, for bulk export or warm-starting a fresh
// datapath root from a prior one's flow set.
func (s *Server) snapshotFlowsHandler(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		writeError(w, dperrors.Unsupported("mgmt", "snapshotFlows", "snapshot codec unavailable"))
		return
	}

	entries, _ := s.dp.DumpFlows(0, false, 0)
	blob, err := s.snapshot.Encode(entries)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Encoding", s.snapshot.ContentEncoding())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}
