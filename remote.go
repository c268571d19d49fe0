package corelog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// PacketCode identifies a remote-transport frame's payload shape.
type PacketCode uint8

const (
	PacketClientHello PacketCode = 0
	PacketServerHello PacketCode = 1
	PacketPause       PacketCode = 2
	PacketResume      PacketCode = 3
	PacketMessage     PacketCode = 4
	PacketPing        PacketCode = 6
)

// frameHeaderSize is the fixed 5-byte header: 1-byte code, 4-byte
// big-endian body length.
const frameHeaderSize = 5

// encodeFrame writes the 5-byte header followed by body.
func encodeFrame(code PacketCode, body []byte) []byte {
	out := make([]byte, frameHeaderSize+len(body))
	out[0] = byte(code)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

// decodeFrame parses exactly one frame from buf. ok is false when buf does
// not yet hold a complete frame, a normal condition rather than an error;
// consumed is the number of bytes the caller should drop from buf.
func decodeFrame(buf []byte) (code PacketCode, body []byte, consumed int, ok bool) {
	if len(buf) < frameHeaderSize {
		return 0, nil, 0, false
	}
	bodyLen := binary.BigEndian.Uint32(buf[1:5])
	total := frameHeaderSize + int(bodyLen)
	if len(buf) < total {
		return 0, nil, 0, false
	}
	return PacketCode(buf[0]), buf[frameHeaderSize:total], total, true
}

// DeviceInfo describes the producing device in a ClientHello body.
type DeviceInfo struct {
	Name           string `json:"name"`
	Model          string `json:"model"`
	LocalizedModel string `json:"localizedModel"`
	SystemName     string `json:"systemName"`
	SystemVersion  string `json:"systemVersion"`
}

// AppInfo describes the producing application in a ClientHello body.
type AppInfo struct {
	SDKVersion       string `json:"sdkVersion"`
	BundleIdentifier string `json:"bundleIdentifier,omitempty"`
	Name             string `json:"name,omitempty"`
	Version          string `json:"version,omitempty"`
	Build            string `json:"build,omitempty"`
}

type clientHelloBody struct {
	DeviceID   string     `json:"deviceId,omitempty"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	AppInfo    AppInfo    `json:"appInfo"`
}

// remoteState is the RemoteTransport's connection state machine position.
type remoteState int32

const (
	stateIdle remoteState = iota
	stateConnecting
	stateConnected
)

// Peer identifies a discovered remote log server.
type Peer struct {
	Name string
	Addr string // host:port, dialable with net.Dial("tcp", ...)
}

// Discoverer finds Peers advertising a service type on the local network.
// The production implementation is udpDiscoverer; tests may substitute a
// fake that yields a fixed peer immediately.
type Discoverer interface {
	// Browse starts browsing and delivers discovered peers on the
	// returned channel until ctx-equivalent Stop is called.
	Browse(serviceType string) (<-chan Peer, func())
}

// pendingSend is one event buffered before the transport reaches its first
// connected state, or while logging is paused.
type pendingSend struct {
	body []byte
}

// RemoteTransport discovers peer servers advertising a service type,
// maintains one active TCP connection, frames events into the binary
// packet protocol, and buffers events submitted before the first
// connection (closing that capture window 2s after Start) or while the
// server has paused logging.
type RemoteTransport struct {
	*BaseTransport

	Discoverer Discoverer
	OnError    ErrorHandler

	serviceType string
	preferName  string
	autoAny     bool
	device      DeviceInfo
	app         AppInfo
	deviceID    string

	mu              sync.Mutex
	state           remoteState
	conn            net.Conn
	recvBuf         []byte
	paused          bool
	preConnectOpen  bool
	preConnectUntil time.Time
	buffered        []pendingSend

	stopDiscovery func()
	stopCh        chan struct{}
	closeOnce     sync.Once

	handshakeTimer *time.Timer
	pingSendTimer  *time.Timer
	pingDeadline   *time.Timer
	retryTimer     *time.Timer

	peer *Peer
}

const (
	remoteHandshakeTimeout = 10 * time.Second
	remotePingInterval     = 2 * time.Second
	remotePingTimeout      = 4 * time.Second
	remoteRetryDelay       = 2 * time.Second
	remotePreConnectWindow = 2 * time.Second
	remotePreConnectLimit  = 4096
)

// NewRemoteTransport constructs a disabled-until-Start RemoteTransport
// browsing for serviceType. When preferName is empty and autoAny is true,
// the first discovered peer is used; otherwise the transport waits for a
// peer whose Name matches preferName.
func NewRemoteTransport(serviceType, preferName string, autoAny bool, device DeviceInfo, app AppInfo, discoverer Discoverer) *RemoteTransport {
	t := &RemoteTransport{
		BaseTransport: NewBaseTransport(NewSerialQueue(256)),
		Discoverer:    discoverer,
		serviceType:   serviceType,
		preferName:    preferName,
		autoAny:       autoAny,
		device:        device,
		app:           app,
		stopCh:        make(chan struct{}),
	}
	return t
}

// Start begins browsing for peers and opens the pre-connect buffer's 2s
// capture window. Safe to call once.
func (t *RemoteTransport) Start() {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		return
	}
	t.state = stateConnecting
	t.preConnectOpen = true
	t.preConnectUntil = time.Now().Add(remotePreConnectWindow)
	t.mu.Unlock()

	if t.Discoverer == nil {
		t.Discoverer = NewUDPDiscoverer()
	}
	peers, stop := t.Discoverer.Browse(t.serviceType)
	t.mu.Lock()
	t.stopDiscovery = stop
	t.mu.Unlock()

	go t.browseLoop(peers)
	go t.preConnectWindowCloser()
}

func (t *RemoteTransport) preConnectWindowCloser() {
	timer := time.NewTimer(remotePreConnectWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
		t.mu.Lock()
		t.preConnectOpen = false
		t.mu.Unlock()
	case <-t.stopCh:
	}
}

func (t *RemoteTransport) browseLoop(peers <-chan Peer) {
	for {
		select {
		case p, ok := <-peers:
			if !ok {
				return
			}
			if t.wantsPeer(p) {
				t.connectTo(p)
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *RemoteTransport) wantsPeer(p Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer != nil {
		return false // already have a chosen peer; reconnect reuses it
	}
	if t.preferName != "" {
		return p.Name == t.preferName
	}
	return t.autoAny
}

func (t *RemoteTransport) connectTo(p Peer) {
	t.mu.Lock()
	t.peer = &p
	t.mu.Unlock()
	t.dial(p)
}

func (t *RemoteTransport) dial(p Peer) {
	conn, err := net.DialTimeout("tcp", p.Addr, remoteHandshakeTimeout)
	if err != nil {
		t.reportError(ErrNetwork, err)
		t.scheduleRetry(p)
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.recvBuf = t.recvBuf[:0]
	t.mu.Unlock()

	if err := t.sendHello(conn); err != nil {
		t.reportError(ErrNetwork, err)
		t.abandonConn(p)
		return
	}
	t.armHandshakeTimeout(p)

	go t.readLoop(conn, p)
}

func (t *RemoteTransport) sendHello(conn net.Conn) error {
	body, err := json.Marshal(clientHelloBody{DeviceID: t.deviceID, DeviceInfo: t.device, AppInfo: t.app})
	if err != nil {
		return err
	}
	_, err = conn.Write(encodeFrame(PacketClientHello, body))
	return err
}

func (t *RemoteTransport) armHandshakeTimeout(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handshakeTimer != nil {
		t.handshakeTimer.Stop()
	}
	t.handshakeTimer = time.AfterFunc(remoteHandshakeTimeout, func() {
		t.mu.Lock()
		stillConnecting := t.state == stateConnecting
		t.mu.Unlock()
		if stillConnecting {
			t.reportError(ErrProtocol, errors.New("handshake timeout"))
			t.abandonConn(p)
		}
	})
}

func (t *RemoteTransport) readLoop(conn net.Conn, p Peer) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.mu.Lock()
			t.recvBuf = append(t.recvBuf, buf[:n]...)
			t.mu.Unlock()
			t.drainFrames(p)
		}
		if err != nil {
			t.mu.Lock()
			isCurrent := t.conn == conn
			t.mu.Unlock()
			if isCurrent {
				t.reportError(ErrNetwork, err)
				t.abandonConn(p)
			}
			return
		}
	}
}

// drainFrames repeatedly decodes one full frame at a time from recvBuf
// until insufficient bytes remain.
func (t *RemoteTransport) drainFrames(p Peer) {
	for {
		t.mu.Lock()
		code, body, consumed, ok := decodeFrame(t.recvBuf)
		if ok {
			t.recvBuf = t.recvBuf[consumed:]
		}
		t.mu.Unlock()
		if !ok {
			return
		}
		t.handlePacket(code, body, p)
	}
}

func (t *RemoteTransport) handlePacket(code PacketCode, body []byte, p Peer) {
	switch code {
	case PacketServerHello:
		t.onConnected(p)
	case PacketPing:
		t.onPingReceived()
	case PacketPause:
		t.mu.Lock()
		t.paused = true
		t.mu.Unlock()
	case PacketResume:
		t.mu.Lock()
		t.paused = false
		t.mu.Unlock()
		t.drainPreConnectBuffer()
	default:
		t.reportError(ErrProtocol, fmt.Errorf("unexpected packet code %d", code))
	}
}

func (t *RemoteTransport) onConnected(p Peer) {
	t.mu.Lock()
	t.state = stateConnected
	if t.handshakeTimer != nil {
		t.handshakeTimer.Stop()
	}
	t.mu.Unlock()

	t.armPingWatchdog()
	t.startPingSender(p)
	t.drainPreConnectBuffer()
}

func (t *RemoteTransport) startPingSender(p Peer) {
	t.mu.Lock()
	if t.pingSendTimer != nil {
		t.pingSendTimer.Stop()
	}
	var loop func()
	loop = func() {
		t.mu.Lock()
		conn := t.conn
		connected := t.state == stateConnected
		t.mu.Unlock()
		if !connected || conn == nil {
			return
		}
		conn.Write(encodeFrame(PacketPing, nil))
		t.mu.Lock()
		t.pingSendTimer = time.AfterFunc(remotePingInterval, loop)
		t.mu.Unlock()
	}
	t.pingSendTimer = time.AfterFunc(remotePingInterval, loop)
	t.mu.Unlock()
}

func (t *RemoteTransport) armPingWatchdog() {
	t.mu.Lock()
	if t.pingDeadline != nil {
		t.pingDeadline.Stop()
	}
	t.pingDeadline = time.AfterFunc(remotePingTimeout, func() {
		t.mu.Lock()
		connected := t.state == stateConnected
		p := t.peer
		t.mu.Unlock()
		if connected && p != nil {
			t.reportError(ErrNetwork, errors.New("ping timeout"))
			t.abandonConn(*p)
		}
	})
	t.mu.Unlock()
}

func (t *RemoteTransport) onPingReceived() {
	t.armPingWatchdog()
}

// abandonConn tears down the current connection and re-enters connecting,
// scheduling a retry to the same peer after remoteRetryDelay.
func (t *RemoteTransport) abandonConn(p Peer) {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.state = stateConnecting
	if t.pingSendTimer != nil {
		t.pingSendTimer.Stop()
	}
	if t.pingDeadline != nil {
		t.pingDeadline.Stop()
	}
	t.mu.Unlock()
	t.scheduleRetry(p)
}

func (t *RemoteTransport) scheduleRetry(p Peer) {
	t.mu.Lock()
	if t.retryTimer != nil {
		t.retryTimer.Stop()
	}
	t.retryTimer = time.AfterFunc(remoteRetryDelay, func() {
		select {
		case <-t.stopCh:
			return
		default:
		}
		t.dial(p)
	})
	t.mu.Unlock()
}

// Record implements Transport. Connected+unpaused events are framed and
// sent immediately; everything else is appended to the bounded
// pre-connect/pause buffer, except after the 2s capture window has closed
// with still no connection, which is a silent drop.
func (t *RemoteTransport) Record(event *Event) bool {
	body, err := t.encodeEvent(event)
	if err != nil {
		t.reportError(ErrProtocol, err)
		return false
	}

	t.mu.Lock()
	connected := t.state == stateConnected && !t.paused
	conn := t.conn
	windowOpen := t.preConnectOpen
	t.mu.Unlock()

	if connected && conn != nil {
		if _, err := conn.Write(encodeFrame(PacketMessage, body)); err != nil {
			t.reportError(ErrNetwork, err)
			return false
		}
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !windowOpen && t.state != stateConnected {
		return true // capture window closed, drop silently
	}
	if len(t.buffered) >= remotePreConnectLimit {
		t.buffered = t.buffered[1:]
	}
	t.buffered = append(t.buffered, pendingSend{body: body})
	return true
}

func (t *RemoteTransport) drainPreConnectBuffer() {
	t.mu.Lock()
	conn := t.conn
	items := t.buffered
	t.buffered = nil
	paused := t.paused
	t.mu.Unlock()

	if conn == nil || paused {
		t.mu.Lock()
		t.buffered = items
		t.mu.Unlock()
		return
	}
	for _, item := range items {
		if _, err := conn.Write(encodeFrame(PacketMessage, item.body)); err != nil {
			t.reportError(ErrNetwork, err)
			return
		}
	}
}

func (t *RemoteTransport) encodeEvent(event *Event) ([]byte, error) {
	doc := map[string]any{
		"id":        event.ID.String(),
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
		"level":     event.Level.String(),
		"subsystem": event.Subsystem,
		"category":  event.Category,
		"message":   event.Message.String(),
	}
	if tags := event.AllTags(); len(tags) > 0 {
		doc["tags"] = tags
	}
	if extra := event.AllExtra(); len(extra) > 0 {
		doc["extra"] = extra
	}
	return json.Marshal(doc)
}

func (t *RemoteTransport) reportError(kind ErrorKind, err error) {
	if t.OnError != nil {
		t.OnError(NewTransportError("remote", kind, err))
	}
}

// Stop cancels discovery and the active connection, returning the
// transport to idle.
func (t *RemoteTransport) Stop() {
	t.closeOnce.Do(func() {
		close(t.stopCh)
	})
	t.mu.Lock()
	if t.stopDiscovery != nil {
		t.stopDiscovery()
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	for _, tm := range []*time.Timer{t.handshakeTimer, t.pingSendTimer, t.pingDeadline, t.retryTimer} {
		if tm != nil {
			tm.Stop()
		}
	}
	t.state = stateIdle
	t.mu.Unlock()
}

// Close implements the manager's closer interface.
func (t *RemoteTransport) Close() { t.Stop() }

// udpDiscoverer implements Discoverer on UDP multicast announce/listen: a
// minimal zeroconf stand-in that needs nothing beyond net.
type udpDiscoverer struct {
	multicastAddr string
}

// NewUDPDiscoverer returns a Discoverer that listens for peer
// announcements on the 239.255.0.0/16 local multicast range, port 7755.
func NewUDPDiscoverer() Discoverer {
	return &udpDiscoverer{multicastAddr: "239.255.90.90:7755"}
}

// Browse starts a goroutine listening for "<serviceType>|<name>|<addr>"
// UDP multicast announcements and emits a Peer for each distinct one seen.
func (d *udpDiscoverer) Browse(serviceType string) (<-chan Peer, func()) {
	out := make(chan Peer, 16)
	done := make(chan struct{})
	stop := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	addr, err := net.ResolveUDPAddr("udp4", d.multicastAddr)
	if err != nil {
		close(out)
		return out, stop
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		close(out)
		return out, stop
	}

	go func() {
		defer close(out)
		defer conn.Close()
		buf := make([]byte, 512)
		for {
			select {
			case <-done:
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			parts := bytes.SplitN(buf[:n], []byte("|"), 3)
			if len(parts) != 3 || string(parts[0]) != serviceType {
				continue
			}
			select {
			case out <- Peer{Name: string(parts[1]), Addr: string(parts[2])}:
			case <-done:
				return
			}
		}
	}()

	return out, stop
}

// AnnounceUDP is the server-side counterpart: broadcast our presence as
// serviceType/name/addr every interval until stop is called. Provided so a
// test harness (or a real server process) can make itself discoverable
// without depending on a third-party mDNS stack.
func AnnounceUDP(serviceType, name string, port int, interval time.Duration) func() {
	addr, err := net.ResolveUDPAddr("udp4", "239.255.90.90:7755")
	if err != nil {
		return func() {}
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return func() {}
	}
	stopCh := make(chan struct{})
	msg := []byte(serviceType + "|" + name + "|" + selfAddr(port))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer conn.Close()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				conn.Write(msg)
			}
		}
	}()
	return func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
}

func selfAddr(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}
