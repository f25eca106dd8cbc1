// Package oscbridge publishes per-block telemetry and listens for
// trigger/config messages over OSC, grounded on the teacher's
// sendOSCMessage/OSCMessageConfig pattern: a named address plus a
// positional parameter list, logged on send, with a dispatcher for the
// inbound side.
package oscbridge

import (
	"fmt"
	"log"

	"github.com/hypebeast/go-osc/osc"
)

// MessageConfig mirrors the teacher's OSCMessageConfig: an address, its
// positional parameters, and an optional log line shown on success.
type MessageConfig struct {
	Address    string
	Parameters []interface{}
	LogFormat  string
	LogArgs    []interface{}
}

// Bridge owns the outbound client and inbound dispatcher/server pair
// described in spec.md §6's telemetry/control contract.
type Bridge struct {
	client     *osc.Client
	dispatcher *osc.StandardDispatcher
	server     *osc.Server
	listenPort int
}

// New dials an OSC client at host:sendPort and prepares a dispatcher to
// serve on listenPort; call Listen to start serving.
func New(host string, sendPort, listenPort int) *Bridge {
	return &Bridge{
		client:     osc.NewClient(host, sendPort),
		dispatcher: osc.NewStandardDispatcher(),
		listenPort: listenPort,
	}
}

// Handle registers an inbound message handler, mirroring the teacher's
// dispatcher.AddMsgHandler("/track_volume", ...) wiring in main.go.
func (b *Bridge) Handle(address string, fn func(*osc.Message)) error {
	return b.dispatcher.AddMsgHandler(address, fn)
}

// Listen starts the OSC server in a background goroutine; the teacher's
// main.go does the equivalent with a bare `go server.ListenAndServe()`
// and a log line on failure.
func (b *Bridge) Listen() {
	b.server = &osc.Server{Addr: fmt.Sprintf(":%d", b.listenPort), Dispatcher: b.dispatcher}
	go func() {
		log.Printf("starting OSC server on port %d", b.listenPort)
		if err := b.server.ListenAndServe(); err != nil {
			log.Printf("OSC server error: %v", err)
		}
	}()
}

// Send builds and transmits one OSC message, following the teacher's
// sendOSCMessage: append every parameter in order, log on success,
// log (not return) on transport failure since telemetry sends must
// never block or fail the audio/control path that triggered them.
func (b *Bridge) Send(cfg MessageConfig) {
	if b.client == nil {
		return
	}
	msg := osc.NewMessage(cfg.Address)
	for _, p := range cfg.Parameters {
		msg.Append(p)
	}
	if err := b.client.Send(msg); err != nil {
		log.Printf("error sending OSC message to %s: %v", cfg.Address, err)
		return
	}
	if cfg.LogFormat != "" {
		log.Printf(cfg.LogFormat, cfg.LogArgs...)
	}
}

// StripTelemetry is one strip's worth of per-block state published at
// /strip/telemetry: playing flag, column, position, display speed and
// active grain-voice count. It carries no LED bitfield and no grain
// preview positions.
type StripTelemetry struct {
	Index           int
	Playing         bool
	Column          int
	PositionInLoop  float64
	DisplaySpeed    float64
	GrainVoiceCount int
}

// SendStripTelemetry publishes one strip's telemetry frame.
func (b *Bridge) SendStripTelemetry(t StripTelemetry) {
	playing := int32(0)
	if t.Playing {
		playing = 1
	}
	b.Send(MessageConfig{
		Address:    "/strip/telemetry",
		Parameters: []interface{}{int32(t.Index), playing, int32(t.Column), t.PositionInLoop, t.DisplaySpeed, int32(t.GrainVoiceCount)},
		LogFormat:  "OSC telemetry sent: /strip/telemetry %d col=%d playing=%d",
		LogArgs:    []interface{}{t.Index, t.Column, playing},
	})
}

// SendTriggerAck publishes a trigger acknowledgement, mirroring the
// teacher's SendOSCPlaybackMessage("/playback", filepath, playing).
func (b *Bridge) SendTriggerAck(stripIdx, column int) {
	b.Send(MessageConfig{
		Address:    "/strip/triggered",
		Parameters: []interface{}{int32(stripIdx), int32(column)},
		LogFormat:  "OSC message sent: /strip/triggered %d %d",
		LogArgs:    []interface{}{stripIdx, column},
	})
}
