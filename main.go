// Command taskflow is the TaskFlow realtime client: it keeps a login
// session alive, mirrors notifications and conversations into local caches
// and follows the push channel with automatic reconnect.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskflow-client/internal/alert"
	"taskflow-client/internal/chat"
	"taskflow-client/internal/config"
	"taskflow-client/internal/devserver"
	"taskflow-client/internal/models"
	"taskflow-client/internal/notify"
	"taskflow-client/internal/realtime"
	"taskflow-client/internal/rest"
	"taskflow-client/internal/session"
	"taskflow-client/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskflow",
		Short:         "TaskFlow realtime notification and chat client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(
		newLoginCmd(&configPath),
		newLogoutCmd(&configPath),
		newListenCmd(&configPath),
		newChatsCmd(&configPath),
		newSendCmd(&configPath),
		newNotificationsCmd(&configPath),
		newSoundCmd(&configPath),
		newDemoCmd(),
	)
	return root
}

// app is the wired client stack shared by the commands.
type app struct {
	cfg      config.Config
	store    *store.Store
	session  *session.Store
	rest     *rest.Client
	notify   *notify.Cache
	chat     *chat.Cache
	realtime *realtime.Manager
}

// HandleNotification and friends fan realtime events into the caches.
func (a *app) HandleNotification(n models.Notification) { a.notify.OnNotification(n) }

func (a *app) HandleChatMessage(m models.Message) { a.chat.OnChatMessage(m) }

func (a *app) HandleTyping(ev models.TypingEvent) { a.chat.OnTyping(ev) }

func (a *app) HandleReadReceipt(ev models.ReadReceiptEvent) { a.chat.OnReadReceipt(ev) }

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: st}
	a.session = session.New(cfg.BaseURL, st)
	a.rest = rest.New(cfg.BaseURL, a.session)

	bell := alert.New(st, nil)
	a.notify = notify.NewCache(a.rest, bell, notify.WithPollInterval(cfg.PollInterval))
	return a, nil
}

// resume restores the persisted session and finishes wiring the parts that
// need the user identity.
func (a *app) resume() error {
	if !a.session.Resume() {
		return fmt.Errorf("not logged in; run `taskflow login` first")
	}
	user, _ := a.session.User()

	bell := alert.New(a.store, nil)
	a.chat = chat.NewCache(a.rest, bell, user.ID, chat.WithTypingTimeout(a.cfg.TypingTimeout))

	bo := realtime.ConstantBackoff(a.cfg.ReconnectDelay)
	if a.cfg.ReconnectPolicy == config.ReconnectExponential {
		bo = realtime.ExponentialBackoff(a.cfg.ReconnectDelay, 2*time.Minute)
	}
	a.realtime = realtime.NewManager(a.cfg.WSURL, a.session, a,
		realtime.WithBackoff(bo),
		realtime.WithPingInterval(a.cfg.PingInterval),
		realtime.WithStateListener(func(s realtime.State) {
			log.Printf("channel: %s", s)
		}),
	)
	return nil
}

func newLoginCmd(configPath *string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			user, err := a.session.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Printf("logged in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			if !a.session.Resume() {
				fmt.Println("not logged in")
				return nil
			}
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

func newListenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Follow notifications and messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.resume(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.session.OnLoggedOut(func() {
				log.Print("session expired, stopping")
				stop()
			})

			if err := a.notify.Refresh(ctx); err != nil {
				log.Printf("initial notification fetch failed: %v", err)
			}
			if err := a.chat.LoadConversations(ctx); err != nil {
				log.Printf("initial conversation fetch failed: %v", err)
			}
			fmt.Printf("%d unread notifications\n", a.notify.Unread())

			a.realtime.Start()
			defer a.realtime.Close()
			a.notify.StartPolling()
			defer a.notify.StopPolling()

			<-ctx.Done()
			return nil
		},
	}
}

func newChatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List conversations, pinned first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.resume(); err != nil {
				return err
			}
			if err := a.chat.LoadConversations(cmd.Context()); err != nil {
				return err
			}
			for _, conv := range a.chat.Conversations() {
				pin := " "
				if conv.IsPinned {
					pin = "*"
				}
				name := conv.Name
				if name == "" {
					name = strings.Join(conv.ParticipantNames, ", ")
				}
				fmt.Printf("%s %-36s  %-24s  unread=%d  %s\n", pin, conv.ID, name, conv.UnreadCount, conv.LastMessage)
			}
			return nil
		},
	}
}

func newSendCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <message>",
		Short: "Send a text message to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.resume(); err != nil {
				return err
			}
			msg, err := a.chat.Send(cmd.Context(), args[0], models.MessageCreate{
				Content:     args[1],
				MessageType: models.MessageTypeText,
			})
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", msg.ID)
			return nil
		},
	}
	return cmd
}

func newNotificationsCmd(configPath *string) *cobra.Command {
	var markAllRead bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.resume(); err != nil {
				return err
			}
			if err := a.notify.Refresh(cmd.Context()); err != nil {
				return err
			}
			if markAllRead {
				if err := a.notify.MarkAllRead(cmd.Context()); err != nil {
					return err
				}
			}
			for _, n := range a.notify.Notifications() {
				state := "unread"
				if n.IsRead {
					state = "read"
				}
				fmt.Printf("%s  [%s] %-14s  %s\n", n.CreatedAt.Format(time.RFC3339), state, n.Type, n.Message)
			}
			fmt.Printf("%d unread\n", a.notify.Unread())
			return nil
		},
	}
	cmd.Flags().BoolVar(&markAllRead, "mark-all-read", false, "mark everything read after listing")
	return cmd
}

func newSoundCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sound <on|off>",
		Short: "Toggle the audible alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			switch args[0] {
			case "on":
				return a.store.SetSoundEnabled(true)
			case "off":
				return a.store.SetSoundEnabled(false)
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
		},
	}
}

// newDemoCmd runs the in-memory backend with two seeded accounts so the
// client can be exercised without a real deployment.
func newDemoCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a local in-memory backend with seeded users",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := devserver.New()
			alice := srv.SeedUser("alice@example.com", "secret", "Alice")
			srv.SeedUser("bob@example.com", "secret", "Bob")

			httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A periodic notification gives connected clients something
			// to show.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for i := 1; ; i++ {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						srv.PushNotification(alice.ID, models.Notification{
							Type:    "task_assigned",
							Message: fmt.Sprintf("Demo task #%d was assigned to you", i),
						})
					}
				}
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutdownCtx)
			}()

			log.Printf("demo backend on %s (alice@example.com / bob@example.com, password %q)", addr, "secret")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	return cmd
}
