package media

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"
)

var log = logging.Logger("media")

// PionEngine joins the managed media gateway with a Pion PeerConnection:
// recvonly transceivers, SDP offer posted over HTTPS with the session token,
// gateway answer applied as the remote description. Remote participants show
// up as inbound tracks.
type PionEngine struct {
	appID      string
	gatewayURL string
	iceServers []string
	http       *http.Client

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	handler EventHandler
	joined  bool

	audioOn   bool
	videoOn   bool
	muted     bool
	speaker   bool
	frontCam  bool
	remoteUID uint32
}

// NewPionEngine creates an engine for the given app id. gatewayURL is the
// media gateway's SDP exchange endpoint.
func NewPionEngine(appID, gatewayURL string, stunServers []string) *PionEngine {
	return &PionEngine{
		appID:      appID,
		gatewayURL: gatewayURL,
		iceServers: stunServers,
		http:       &http.Client{Timeout: 15 * time.Second},
		frontCam:   true,
	}
}

func (e *PionEngine) SetHandler(h EventHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *PionEngine) EnableAudio() error {
	e.mu.Lock()
	e.audioOn = true
	e.mu.Unlock()
	return nil
}

func (e *PionEngine) EnableVideo() error {
	e.mu.Lock()
	e.videoOn = true
	e.mu.Unlock()
	return nil
}

// Join builds the PeerConnection and exchanges SDP with the gateway. The
// token is used verbatim; the engine does not inspect it.
func (e *PionEngine) Join(token, channelName string, uid uint32) error {
	e.mu.Lock()
	if e.joined {
		e.mu.Unlock()
		return fmt.Errorf("media: already joined")
	}
	handler := e.handler
	e.mu.Unlock()

	cfg := webrtc.Configuration{}
	if len(e.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: e.iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return fmt.Errorf("media: new peer connection: %w", err)
	}

	// Recvonly transceivers so the offer always has valid m-lines with ICE
	// credentials, whether or not local capture is attached.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("media: add audio transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("media: add video transceiver: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debugw("pc state", "channel", channelName, "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if handler.OnJoinSuccess != nil {
				handler.OnJoinSuccess()
			}
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			e.mu.Lock()
			remote := e.remoteUID
			e.mu.Unlock()
			if handler.OnUserOffline != nil {
				handler.OnUserOffline(remote)
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		remote := uint32(track.SSRC())
		log.Infow("remote track", "channel", channelName, "kind", track.Kind().String(), "uid", remote)
		e.mu.Lock()
		first := e.remoteUID == 0
		if first {
			e.remoteUID = remote
		}
		e.mu.Unlock()
		if first && handler.OnUserJoined != nil {
			handler.OnUserJoined(remote)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("media: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("media: set local description: %w", err)
	}
	<-gathered

	answer, err := e.exchangeSDP(token, channelName, uid, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("media: set remote description: %w", err)
	}

	e.mu.Lock()
	e.pc = pc
	e.joined = true
	e.mu.Unlock()
	log.Infow("joined", "channel", channelName, "uid", uid)
	return nil
}

// exchangeSDP posts the local offer to the gateway and returns its answer.
func (e *PionEngine) exchangeSDP(token, channelName string, uid uint32, offerSDP string) (string, error) {
	u := fmt.Sprintf("%s/%s?uid=%d&appId=%s", e.gatewayURL, url.PathEscape(channelName), uid, url.QueryEscape(e.appID))
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader([]byte(offerSDP)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: gateway join: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("media: gateway answer: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("media: gateway join status %s", resp.Status)
	}
	return string(body), nil
}

func (e *PionEngine) Leave() error {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.joined = false
	e.remoteUID = 0
	e.mu.Unlock()

	if pc == nil {
		return ErrNotJoined
	}
	return pc.Close()
}

func (e *PionEngine) Release() {
	if err := e.Leave(); err != nil && err != ErrNotJoined {
		log.Warnw("release", "err", err)
	}
}

func (e *PionEngine) MuteLocalAudio(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.joined {
		return ErrNotJoined
	}
	e.muted = muted
	log.Debugw("local audio", "muted", muted)
	return nil
}

func (e *PionEngine) SetSpeakerphone(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.joined {
		return ErrNotJoined
	}
	e.speaker = on
	log.Debugw("speakerphone", "on", on)
	return nil
}

func (e *PionEngine) SwitchCamera() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.joined {
		return ErrNotJoined
	}
	e.frontCam = !e.frontCam
	log.Debugw("camera", "front", e.frontCam)
	return nil
}
