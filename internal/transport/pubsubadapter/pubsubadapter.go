// Package pubsubadapter implements the Pub/Sub (MQTT-style) Adapter of
// spec §4.5: topic construction, the three request JSON shapes, and
// draining the session-unique topic for both the job document and
// chunked image data.
//
// Grounded on cy_ota_mqtt.c's topic-building (cy_ota_mqtt_get_job/
// cy_ota_mqtt_get_data) and on internal/chunk for the inbound payload
// framing. The wire client is github.com/eclipse/paho.golang, the MQTT
// v5 client the rest of this pack reaches for.
package pubsubadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/cuemby/ota-agent/internal/chunk"
	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// topicMagic is the fixed component spec §4.5 calls "magic" in the
// session-unique topic.
const topicMagic = "otaimage"

// Config configures an Adapter's connection and topic layout.
type Config struct {
	Host string
	Port int

	ClientIDPrefix string
	Username       string
	Password       string
	CleanSession   bool
	Keepalive      uint16

	// CompanyPrepend and Board build the fixed and session-unique
	// topics (spec §4.5 "Topic discipline").
	CompanyPrepend  string
	Board           string
	PublisherListen string

	RunningVersion otatypes.Version

	// GetAllAtOnce selects the full-download request shape; otherwise
	// the adapter issues the optional per-chunk flow.
	GetAllAtOnce bool

	// Dialer overrides net.Dial, used by tests to connect to an
	// in-memory broker.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Adapter implements transport.Transport over an MQTT-style pub/sub
// broker.
type Adapter struct {
	cfg Config

	client             *paho.Client
	subscriberPublish  string
	sessionUniqueTopic string

	mu      sync.Mutex
	inbox   chan []byte
	dropped bool
}

var _ transport.Transport = (*Adapter)(nil)

// New constructs an Adapter from cfg.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Connect dials the broker, issues the MQTT CONNECT with a per-session
// unique client suffix, and subscribes to the session-unique topic the
// server will address its responses to (spec §4.5).
func (a *Adapter) Connect(ctx context.Context) error {
	suffix, err := randomSuffix()
	if err != nil {
		return otaerr.Wrap(otaerr.Connect, "generating session suffix", err)
	}

	a.subscriberPublish, a.sessionUniqueTopic = buildTopics(a.cfg.CompanyPrepend, a.cfg.Board, a.cfg.PublisherListen, suffix)

	dial := a.cfg.Dialer
	if dial == nil {
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}
	conn, err := dial(ctx, "tcp", net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port)))
	if err != nil {
		return otaerr.Wrap(otaerr.Connect, "dialing broker", err)
	}

	a.inbox = make(chan []byte, chunk.MinCapacity)

	a.client = paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if pr.Packet.Topic != a.sessionUniqueTopic {
					return false, nil
				}
				select {
				case a.inbox <- pr.Packet.Payload:
				default:
				}
				return true, nil
			},
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			a.mu.Lock()
			a.dropped = true
			a.mu.Unlock()
		},
	})

	connect := &paho.Connect{
		KeepAlive:  a.cfg.Keepalive,
		ClientID:   a.cfg.ClientIDPrefix + "-" + suffix,
		CleanStart: a.cfg.CleanSession,
	}
	if a.cfg.Username != "" {
		connect.UsernameFlag = true
		connect.Username = a.cfg.Username
		connect.PasswordFlag = true
		connect.Password = []byte(a.cfg.Password)
	}

	if _, err := a.client.Connect(ctx, connect); err != nil {
		return otaerr.Wrap(otaerr.Connect, "MQTT connect failed", err)
	}

	if _, err := a.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: a.sessionUniqueTopic, QoS: 1},
		},
	}); err != nil {
		return otaerr.Wrap(otaerr.Connect, "subscribing to session topic", err)
	}

	return nil
}

// DownloadJob publishes the availability-query request and waits for
// the job document on the session-unique topic.
func (a *Adapter) DownloadJob(ctx context.Context, req transport.JobRequest) ([]byte, error) {
	body, err := json.Marshal(struct {
		Message         string `json:"Message"`
		Manufacturer    string `json:"Manufacturer"`
		Product         string `json:"Product"`
		SerialNumber    string `json:"SerialNumber"`
		Version         string `json:"Version"`
		Board           string `json:"Board"`
		UniqueTopicName string `json:"UniqueTopicName"`
	}{
		Message:         "Update Availability",
		Manufacturer:    req.Manufacturer,
		Product:         req.Product,
		SerialNumber:    req.SerialNumber,
		Version:         req.RunningVersion.String(),
		Board:           req.Board,
		UniqueTopicName: a.sessionUniqueTopic,
	})
	if err != nil {
		return nil, otaerr.Wrap(otaerr.GetJob, "encoding availability request", err)
	}

	if err := a.publish(ctx, body); err != nil {
		return nil, otaerr.Wrap(otaerr.GetJob, "publishing availability request", err)
	}

	return a.awaitInbox(ctx, otaerr.GetJob)
}

// DownloadData issues either the full-download request (GetAllAtOnce)
// or the per-chunk flow, decoding each inbound publish as a chunk
// header and forwarding the resulting write request to handler (spec
// §4.3, §4.5).
func (a *Adapter) DownloadData(ctx context.Context, req transport.DataRequest, handler transport.DataHandler) error {
	received := chunk.NewReceivedPackets(0)

	if a.cfg.GetAllAtOnce || req.GetAllAtOnce {
		if err := a.requestFullDownload(ctx, req); err != nil {
			return err
		}
		return a.drainChunks(ctx, req, handler, received)
	}

	return a.requestPerChunk(ctx, req, handler, received)
}

func (a *Adapter) requestFullDownload(ctx context.Context, req transport.DataRequest) error {
	body, err := json.Marshal(struct {
		Message         string `json:"Message"`
		File            string `json:"File"`
		UniqueTopicName string `json:"UniqueTopicName"`
	}{Message: "Download All", File: req.File, UniqueTopicName: a.sessionUniqueTopic})
	if err != nil {
		return otaerr.Wrap(otaerr.GetData, "encoding full-download request", err)
	}
	if err := a.publish(ctx, body); err != nil {
		return otaerr.Wrap(otaerr.GetData, "publishing full-download request", err)
	}
	return nil
}

func (a *Adapter) drainChunks(ctx context.Context, req transport.DataRequest, handler transport.DataHandler, received *chunk.ReceivedPackets) error {
	var writtenTotal uint32

	for req.TotalImageSize == 0 || writtenTotal < req.TotalImageSize {
		a.mu.Lock()
		dropped := a.dropped
		a.mu.Unlock()
		if dropped {
			return otaerr.New(otaerr.ServerDropped, "broker disconnected during download")
		}

		payload, err := a.awaitInbox(ctx, otaerr.GetData)
		if err != nil {
			return err
		}

		h, err := chunk.DecodeHeader(payload)
		if err != nil {
			return err
		}
		if err := chunk.Validate(h, len(payload), a.cfg.RunningVersion); err != nil {
			return err
		}
		dup, err := received.MarkReceived(h.ThisPayloadIndex)
		if err != nil {
			return err
		}
		if dup {
			continue
		}
		wr, err := chunk.ToWriteRequest(h, payload)
		if err != nil {
			return err
		}
		if err := handler(wr); err != nil {
			return err
		}
		writtenTotal += uint32(len(wr.Payload))
	}

	return nil
}

func (a *Adapter) requestPerChunk(ctx context.Context, req transport.DataRequest, handler transport.DataHandler, received *chunk.ReceivedPackets) error {
	var offset uint32
	for req.TotalImageSize == 0 || offset < req.TotalImageSize {
		body, err := json.Marshal(struct {
			Message         string `json:"Message"`
			Filename        string `json:"Filename"`
			Offset          uint32 `json:"Offset"`
			Size            uint16 `json:"Size"`
			UniqueTopicName string `json:"UniqueTopicName"`
		}{Message: "Data Chunk", Filename: req.File, Offset: offset, Size: chunk.MinCapacity, UniqueTopicName: a.sessionUniqueTopic})
		if err != nil {
			return otaerr.Wrap(otaerr.GetData, "encoding per-chunk request", err)
		}
		if err := a.publish(ctx, body); err != nil {
			return otaerr.Wrap(otaerr.GetData, "publishing per-chunk request", err)
		}

		payload, err := a.awaitInbox(ctx, otaerr.GetData)
		if err != nil {
			return err
		}

		h, err := chunk.DecodeHeader(payload)
		if err != nil {
			return err
		}
		if err := chunk.Validate(h, len(payload), a.cfg.RunningVersion); err != nil {
			return err
		}
		wr, err := chunk.ToWriteRequest(h, payload)
		if err != nil {
			return err
		}
		dup, err := received.MarkReceived(h.ThisPayloadIndex)
		if err != nil {
			return err
		}
		if dup {
			continue
		}
		if err := handler(wr); err != nil {
			return err
		}
		offset += uint32(len(wr.Payload))
	}
	return nil
}

// ReportResult publishes the session outcome on the fixed subscriber
// topic. MQTT has no request/response ack for this message; a
// successful publish is treated as a successful report.
func (a *Adapter) ReportResult(ctx context.Context, report transport.ResultReport) error {
	message := "Success"
	if report.Outcome != otatypes.OutcomeSuccess {
		message = "Failure"
	}
	body, err := json.Marshal(struct {
		Message string `json:"Message"`
		File    string `json:"File"`
	}{Message: message, File: report.File})
	if err != nil {
		return otaerr.Wrap(otaerr.SendingResult, "encoding result report", err)
	}
	if err := a.publish(ctx, body); err != nil {
		return otaerr.Wrap(otaerr.SendingResult, "publishing result report", err)
	}
	return nil
}

// Disconnect tears down the MQTT session.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (a *Adapter) publish(ctx context.Context, body []byte) error {
	_, err := a.client.Publish(ctx, &paho.Publish{
		Topic:   a.subscriberPublish,
		QoS:     1,
		Payload: body,
	})
	return err
}

func (a *Adapter) awaitInbox(ctx context.Context, onTimeout otaerr.Code) ([]byte, error) {
	select {
	case payload := <-a.inbox:
		return payload, nil
	case <-ctx.Done():
		return nil, otaerr.Wrap(onTimeout, "waiting for broker response", ctx.Err())
	}
}

// randomSuffix builds the "rand16" component of spec §4.5's
// session-unique topic: 16 hex characters derived from a fresh UUID,
// the same uuid.New().String() pattern the teacher uses for its
// own per-session identifiers (pkg/scheduler, pkg/api/server.go).
func randomSuffix() (string, error) {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:16], nil
}

// buildTopics constructs the fixed subscriber-publish topic and the
// session-unique topic of spec §4.5 ("Topic discipline"): the former
// from company-prepend/board/publisher-listen, the latter from
// company-prepend/board/magic/rand16.
func buildTopics(companyPrepend, board, publisherListen, suffix string) (subscriberPublish, sessionUnique string) {
	subscriberPublish = fmt.Sprintf("%s/%s/%s", companyPrepend, board, publisherListen)
	sessionUnique = fmt.Sprintf("%s/%s/%s/%s", companyPrepend, board, topicMagic, suffix)
	return
}
