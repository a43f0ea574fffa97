package session

import (
	"encoding/json"
	"fmt"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

// Request is one decoded protocol line.
type Request struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params"`
}

// handler runs one command and returns its success fields.
type handler func(params json.RawMessage) (map[string]interface{}, error)

// Dispatcher maps protocol commands onto a Manager.  Responses carry
// "status": 1 on success with command-specific fields, or "status": 0
// with a "message".
type Dispatcher struct {
	m        *Manager
	handlers map[string]handler
}

// NewDispatcher returns a dispatcher over m with the full command set
// registered.
func NewDispatcher(m *Manager) *Dispatcher {
	d := &Dispatcher{m: m}
	d.handlers = map[string]handler{
		"create":         d.create,
		"destroy":        d.destroy,
		"isSessionValid": d.isSessionValid,
		"getNumPoints":   d.getNumPoints,
		"getSchema":      d.getSchema,
		"getSRS":         d.getSRS,
		"read":           d.read,
		"serialize":      d.serialize,
	}
	return d
}

// Ready returns the handshake line emitted before the first command is
// read.
func (d *Dispatcher) Ready() []byte {
	return mustMarshal(map[string]interface{}{"ready": 1})
}

// Dispatch decodes one protocol line and returns the response line.
func (d *Dispatcher) Dispatch(line []byte) []byte {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return failure("invalid request: " + err.Error())
	}
	h, ok := d.handlers[req.Command]
	if !ok {
		return failure(d.unknownCommand(req.Command))
	}
	fields, err := h(req.Params)
	if err != nil {
		log.Debug.Printf("session: %s: %v", req.Command, err)
		return failure(err.Error())
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = 1
	return mustMarshal(fields)
}

// unknownCommand builds the error message for an unregistered command,
// suggesting the nearest registered one when it is plausibly a typo.
func (d *Dispatcher) unknownCommand(cmd string) string {
	best, bestDist := "", len(cmd)+1
	for name := range d.handlers {
		if dist := matchr.Levenshtein(cmd, name); dist < bestDist {
			best, bestDist = name, dist
		}
	}
	if best != "" && bestDist <= 3 {
		return fmt.Sprintf("unknown command %q (did you mean %q?)", cmd, best)
	}
	return fmt.Sprintf("unknown command %q", cmd)
}

type createParams struct {
	Pipeline string `json:"pipeline"`
	Debug    bool   `json:"debug"`
	Verbose  int    `json:"verbose"`
}

func (d *Dispatcher) create(params json.RawMessage) (map[string]interface{}, error) {
	var p createParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.m.Create(p.Pipeline, p.Debug, p.Verbose); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) destroy(json.RawMessage) (map[string]interface{}, error) {
	if err := d.m.Destroy(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) isSessionValid(json.RawMessage) (map[string]interface{}, error) {
	return map[string]interface{}{"valid": d.m.IsValid()}, nil
}

func (d *Dispatcher) getNumPoints(json.RawMessage) (map[string]interface{}, error) {
	n, err := d.m.NumPoints()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": n}, nil
}

func (d *Dispatcher) getSchema(json.RawMessage) (map[string]interface{}, error) {
	xml, err := d.m.SchemaXML()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"schema": xml}, nil
}

func (d *Dispatcher) getSRS(json.RawMessage) (map[string]interface{}, error) {
	srs, err := d.m.SRS()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"srs": srs}, nil
}

func (d *Dispatcher) read(params json.RawMessage) (map[string]interface{}, error) {
	var p ReadParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	res, err := d.m.Read(p)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message":    res.Message,
		"pointsRead": res.PointsRead,
		"bytesCount": res.BytesCount,
	}, nil
}

func (d *Dispatcher) serialize(json.RawMessage) (map[string]interface{}, error) {
	id, err := d.m.Serialize(vcontext.Background())
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if id != 0 {
		fields["storeId"] = id
	}
	return fields, nil
}

func unmarshalParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func failure(msg string) []byte {
	return mustMarshal(map[string]interface{}{"status": 0, "message": msg})
}

func mustMarshal(fields map[string]interface{}) []byte {
	out, err := json.Marshal(fields)
	if err != nil {
		log.Panicf("session: marshal response: %v", err)
	}
	return out
}
