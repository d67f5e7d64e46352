// Package app assembles the client: config, signaling, REST backend, the call
// manager, chat, the floating widget, and the local control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/astroveda/astroclient/internal/api"
	"github.com/astroveda/astroclient/internal/booking"
	"github.com/astroveda/astroclient/internal/call"
	"github.com/astroveda/astroclient/internal/callstate"
	"github.com/astroveda/astroclient/internal/chat"
	"github.com/astroveda/astroclient/internal/config"
	"github.com/astroveda/astroclient/internal/control"
	"github.com/astroveda/astroclient/internal/media"
	"github.com/astroveda/astroclient/internal/overlay"
	"github.com/astroveda/astroclient/internal/signaling"
	"github.com/astroveda/astroclient/internal/storage"
	"github.com/astroveda/astroclient/internal/util"
)

// cacheRetention is how long local chat history is kept.
const cacheRetention = 30 * 24 * time.Hour

// Screen size the floating widget snaps against. A real shell would report
// the device's dimensions; the default matches a common phone viewport.
var defaultScreen = overlay.Geometry{Width: 400, Height: 800}

type Options struct {
	CfgPath string
	Cfg     *config.Config

	// ListenAddr is the control API bind address, e.g. "127.0.0.1:7465".
	ListenAddr string
}

// App is the assembled client. Build with New, run with Run.
type App struct {
	opt   Options
	cfgMu sync.RWMutex
	cfg   *config.Config
	api   *api.Client
	sig   *signaling.Client
	db    *storage.DB
	store *callstate.Store
	calls *call.Manager
	face  *overlay.Window

	chatMu sync.Mutex
	chats  *chat.Manager
}

func New(opt Options) (*App, error) {
	cfg := opt.Cfg
	if cfg == nil {
		loaded, err := config.Load(opt.CfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	db, err := storage.Open(cfg.DataDir(opt.CfgPath))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a := &App{
		opt:   opt,
		cfg:   cfg,
		api:   api.NewClient(cfg.Server.APIBase),
		sig:   signaling.NewClient(cfg.Server.SignalingURL),
		db:    db,
		store: callstate.NewStore(),
	}
	a.calls = call.NewManager(call.ManagerConfig{
		Signaler: a.sig,
		Backend:  a.api,
		Store:    a.store,
		EngineFactory: func() (media.Engine, error) {
			return media.NewPionEngine(cfg.Media.AppID, cfg.Media.GatewayURL, cfg.Media.STUNServers), nil
		},
		Location: cfg.Location(),
	})
	a.face = overlay.NewWindow(a.store, defaultScreen, func() error {
		ctl, ok := a.calls.Active()
		if !ok {
			return errors.New("no session to restore")
		}
		return ctl.Restore()
	})
	return a, nil
}

// Run connects signaling, starts the control API, and blocks until ctx is
// done.
func (a *App) Run(ctx context.Context) error {
	log.Printf("APP: astrologer %s starting", a.cfg.Identity.AstrologerID)

	if n, err := a.db.PruneBefore(time.Now().Add(-cacheRetention)); err != nil {
		log.Printf("APP: cache prune failed: %v", err)
	} else if n > 0 {
		log.Printf("APP: pruned %d cached messages", n)
	}

	connCtx, cancelConn := context.WithTimeout(ctx, util.DefaultConnectTimeout)
	err := a.sig.Connect(connCtx, signaling.Identity{
		UserID:   a.cfg.Identity.AstrologerID,
		UserType: "astrologer",
	})
	cancelConn()
	if err != nil {
		// The client keeps retrying in the background; a cold start without
		// connectivity still brings up the control API.
		log.Printf("APP: signaling connect failed, will retry: %v", err)
	}

	a.calls.OnIncoming(func(ic call.IncomingCall) {
		log.Printf("APP: incoming call ring: booking=%s channel=%s", ic.BookingID, ic.ChannelName)
	})
	a.calls.OnRingEnd(func(channelName string) {
		log.Printf("APP: ring cancelled: channel=%s", channelName)
	})

	// Live config edits: the signaling identity follows the file. Connect is
	// a no-op when the identity is unchanged.
	if err := config.Watch(ctx, a.opt.CfgPath, func(next *config.Config) {
		a.cfgMu.Lock()
		a.cfg = next
		a.cfgMu.Unlock()
		if err := a.sig.Connect(ctx, signaling.Identity{
			UserID:   next.Identity.AstrologerID,
			UserType: "astrologer",
		}); err != nil {
			log.Printf("APP: reconnect after config change failed: %v", err)
		}
	}); err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	}

	mux := http.NewServeMux()
	control.Register(mux, control.Deps{
		SelfID:     a.config().Identity.AstrologerID,
		Calls:      a.calls,
		Store:      a.store,
		API:        a.api,
		Overlay:    a.face,
		ChatOpen:   a.openChat,
		ChatActive: a.activeChat,
		ChatClose:  a.closeChat,
	})

	srv := &http.Server{Addr: a.opt.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("APP: control API on http://%s", a.opt.ListenAddr)

	select {
	case err := <-errCh:
		a.shutdown()
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	a.shutdown()
	return ctx.Err()
}

func (a *App) shutdown() {
	a.closeChat()
	a.calls.Close()
	a.face.Close()
	a.sig.Close()
	media.ReleaseCurrent()
	if err := a.db.Close(); err != nil {
		log.Printf("APP: cache close: %v", err)
	}
}

func (a *App) config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// openChat starts the conversation for a booked consultation, replacing any
// open one.
func (a *App) openChat(ctx context.Context, bookingID string) error {
	cfg := a.config()
	bk, err := a.findBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if bk.Customer.ID == "" {
		return fmt.Errorf("booking %s has no customer", bookingID)
	}

	var deadline time.Time
	if w, err := bk.Window(cfg.Location()); err == nil {
		deadline = w.End
	}

	cm := chat.New(chat.Config{
		SelfID:   cfg.Identity.AstrologerID,
		PeerID:   bk.Customer.ID,
		Signaler: a.sig,
		Backend:  a.api,
		Cache:    a.db,
		Buffer:   cfg.Consult.ChatBuffer,
		Deadline: deadline,
	})
	if err := cm.Open(ctx); err != nil {
		cm.Close()
		return err
	}

	a.chatMu.Lock()
	old := a.chats
	a.chats = cm
	a.chatMu.Unlock()
	if old != nil {
		old.Close()
	}
	log.Printf("APP: chat open with %s (booking %s)", bk.Customer.ID, bookingID)
	return nil
}

func (a *App) activeChat() (*chat.Manager, bool) {
	a.chatMu.Lock()
	defer a.chatMu.Unlock()
	return a.chats, a.chats != nil
}

func (a *App) closeChat() {
	a.chatMu.Lock()
	cm := a.chats
	a.chats = nil
	a.chatMu.Unlock()
	if cm != nil {
		cm.Close()
	}
}

func (a *App) findBooking(ctx context.Context, id string) (*booking.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	list, err := a.api.FetchBookings(ctx, a.config().Identity.AstrologerID)
	if err != nil {
		return nil, fmt.Errorf("fetch bookings: %w", err)
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("booking %s not found", id)
}
