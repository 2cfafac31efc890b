package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"

	"stagehand/api/internal/auth"
	"stagehand/api/internal/client"
	"stagehand/api/internal/geometry"
	"stagehand/api/internal/realtime"
	"stagehand/api/internal/search"
	sessionstore "stagehand/api/internal/session"
	"stagehand/api/internal/stage"
	"stagehand/api/internal/store"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// session holds the flags shared by every command that talks to a server.
type session struct {
	url     string
	token   string
	channel string
	timeout time.Duration
}

func (s *session) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.url, "url", envOr("STAGEHAND_URL", "ws://localhost:3000/ws"), "websocket endpoint")
	fs.StringVar(&s.token, "token", os.Getenv("STAGEHAND_TOKEN"), "bearer credential (empty connects as guest)")
	fs.StringVarP(&s.channel, "channel", "c", "", "channel to join")
	fs.DurationVar(&s.timeout, "timeout", 10*time.Second, "how long to wait for the server")
}

// open dials, joins and returns the joined state.
func (s *session) open(ctx context.Context) (*client.Client, stage.State, error) {
	if s.channel == "" {
		return nil, stage.State{}, fmt.Errorf("--channel is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	c, err := client.Dial(ctx, s.url, s.token)
	if err != nil {
		return nil, stage.State{}, err
	}
	if err := c.Join(s.channel); err != nil {
		_ = c.Close()
		return nil, stage.State{}, err
	}
	state, err := c.NextState(ctx)
	if err != nil {
		_ = c.Close()
		return nil, stage.State{}, err
	}
	return c, state, nil
}

// settle waits for the broadcast of the last frame sent, or surfaces the
// server's error frame.
func (s *session) settle(ctx context.Context, c *client.Client, broadcasts int) (stage.State, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var state stage.State
	for broadcasts > 0 {
		select {
		case env, ok := <-c.Events():
			if !ok {
				return state, client.ErrClosed
			}
			switch env.Type {
			case realtime.EventError:
				var p realtime.ErrorPayload
				_ = env.Decode(&p)
				return state, fmt.Errorf("server: %s", p.Message)
			case realtime.EventStageUpdate:
				var p realtime.StageUpdatePayload
				if err := env.Decode(&p); err != nil {
					return state, err
				}
				state = p.State
				broadcasts--
			}
		case <-ctx.Done():
			return state, fmt.Errorf("waiting for broadcast: %w", ctx.Err())
		}
	}
	return state, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runToken(_ context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	user := fs.String("user", "", "subject (user id)")
	name := fs.String("name", "", "display name; matching a channel's slug makes the user its producer")
	email := fs.String("email", "", "email claim")
	secret := fs.String("secret", envOr("STAGEHAND_JWT_SECRET", "stagehand-dev-secret"), "signing secret")
	ttl := fs.Duration("ttl", 12*time.Hour, "lifetime; 0 never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	tok, err := auth.IssueToken([]byte(*secret), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: *user},
		Name:             *name,
		Email:            *email,
	}, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}

func runState(ctx context.Context, args []string, out io.Writer) error {
	var s session
	fs := pflag.NewFlagSet("state", pflag.ContinueOnError)
	s.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, state, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return printJSON(out, state)
}

func runAdd(ctx context.Context, args []string, out io.Writer) error {
	var s session
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	s.addFlags(fs)
	asset := fs.String("asset", "", "asset id")
	def := geometry.DefaultTransform()
	x := fs.Float64("x", def.X, "normalized centre x")
	y := fs.Float64("y", def.Y, "normalized centre y")
	scale := fs.Float64("scale", def.Scale, "scale")
	rotation := fs.Float64("rotation", def.Rotation, "rotation in degrees")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *asset == "" {
		return fmt.Errorf("--asset is required")
	}
	c, _, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	t := geometry.Transform{X: *x, Y: *y, Scale: *scale, Rotation: *rotation}
	if err := c.AddElement(*asset, &t); err != nil {
		return err
	}
	state, err := s.settle(ctx, c, 1)
	if err != nil {
		return err
	}
	return printJSON(out, state)
}

// gestureFlags are shared by drag, rotate and resize.
type gestureFlags struct {
	session
	element string
	dx, dy  float64
	steps   int
}

func (g *gestureFlags) addFlags(fs *pflag.FlagSet) {
	g.session.addFlags(fs)
	fs.StringVarP(&g.element, "element", "e", "", "instance id")
	fs.Float64Var(&g.dx, "dx", 0, "horizontal pointer offset in pixels")
	fs.Float64Var(&g.dy, "dy", 0, "vertical pointer offset in pixels")
	fs.IntVar(&g.steps, "steps", 10, "number of intermediate pointer positions")
}

// path interpolates the pointer from the origin to (dx, dy).
func (g *gestureFlags) path() []client.Pointer {
	n := g.steps
	if n < 1 {
		n = 1
	}
	out := make([]client.Pointer, n)
	for i := range out {
		f := float64(i+1) / float64(n)
		out[i] = client.Pointer{DX: g.dx * f, DY: g.dy * f}
	}
	return out
}

func (g *gestureFlags) target(ctx context.Context) (*client.Client, stage.State, stage.Element, error) {
	if g.element == "" {
		return nil, stage.State{}, stage.Element{}, fmt.Errorf("--element is required")
	}
	c, state, err := g.open(ctx)
	if err != nil {
		return nil, state, stage.Element{}, err
	}
	el, ok := state.Elements[g.element]
	if !ok {
		_ = c.Close()
		return nil, state, stage.Element{}, fmt.Errorf("element %s is not on channel %s", g.element, g.channel)
	}
	return c, state, *el, nil
}

func (g *gestureFlags) finish(ctx context.Context, c *client.Client, out io.Writer) error {
	// one update per step, unlock; the lock broadcast was consumed while
	// waiting for the grant
	state, err := g.settle(ctx, c, len(g.path())+1)
	if err != nil {
		return err
	}
	return printJSON(out, state.Elements[g.element])
}

func runDrag(ctx context.Context, args []string, out io.Writer) error {
	var g gestureFlags
	fs := pflag.NewFlagSet("drag", pflag.ContinueOnError)
	g.addFlags(fs)
	vw := fs.Float64("viewport-width", 1920, "on-screen viewport width the offsets are measured against")
	vh := fs.Float64("viewport-height", 1080, "on-screen viewport height")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, el, err := g.target(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	gesture := client.Gesture{Client: c, Viewport: geometry.Size{Width: *vw, Height: *vh}}
	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := gesture.Drag(gctx, el, g.path()); err != nil {
		return err
	}
	return g.finish(ctx, c, out)
}

func runRotate(ctx context.Context, args []string, out io.Writer) error {
	var g gestureFlags
	fs := pflag.NewFlagSet("rotate", pflag.ContinueOnError)
	g.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _, el, err := g.target(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := (client.Gesture{Client: c}).Rotate(gctx, el, g.path()); err != nil {
		return err
	}
	return g.finish(ctx, c, out)
}

func runResize(ctx context.Context, args []string, out io.Writer) error {
	var g gestureFlags
	fs := pflag.NewFlagSet("resize", pflag.ContinueOnError)
	g.addFlags(fs)
	handle := fs.String("handle", string(geometry.BottomRight), "dragged corner: tl, tr, bl or br")
	width := fs.Float64("elem-width", 400, "element native width in stage pixels")
	height := fs.Float64("elem-height", 400, "element native height in stage pixels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	corner := geometry.Corner(*handle)
	if !corner.Valid() {
		return fmt.Errorf("unknown handle %q", *handle)
	}
	c, state, el, err := g.target(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	elem := geometry.Size{Width: *width, Height: *height}
	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := (client.Gesture{Client: c}).Resize(gctx, el, state.Config.Frame(), elem, corner, g.path()); err != nil {
		return err
	}
	return g.finish(ctx, c, out)
}

func runSimple(event string) func(context.Context, []string, io.Writer) error {
	return func(ctx context.Context, args []string, out io.Writer) error {
		var s session
		fs := pflag.NewFlagSet(event, pflag.ContinueOnError)
		s.addFlags(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		c, _, err := s.open(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Send(event, nil); err != nil {
			return err
		}
		state, err := s.settle(ctx, c, 1)
		if err != nil {
			return err
		}
		return printJSON(out, state)
	}
}

func openCatalog(ctx context.Context, dsn string) (*store.PostgresStore, func(), error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("--database-url is required")
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

func runApprove(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("approve", pflag.ContinueOnError)
	dsn := fs.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	meiliURL := fs.String("meili-url", os.Getenv("MEILI_URL"), "Meilisearch URL to refresh, optional")
	meiliKey := fs.String("meili-key", envOr("MEILI_MASTER_KEY", "stagehand-meili-key"), "Meilisearch API key")
	asset := fs.String("asset", "", "asset id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *asset == "" {
		return fmt.Errorf("--asset is required")
	}
	catalog, closeDB, err := openCatalog(ctx, *dsn)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := catalog.ApproveAsset(ctx, *asset); err != nil {
		return fmt.Errorf("approve %s: %w", *asset, err)
	}
	if *meiliURL != "" {
		approved, err := catalog.GetAsset(ctx, *asset)
		if err != nil {
			return fmt.Errorf("reload %s: %w", *asset, err)
		}
		index := search.NewMeili(*meiliURL, *meiliKey)
		defer index.Close()
		if approved != nil && index.Healthy() {
			if err := index.IndexAsset(*approved); err != nil {
				return fmt.Errorf("reindex %s: %w", *asset, err)
			}
		}
	}
	_, err = fmt.Fprintf(out, "approved %s\n", *asset)
	return err
}

func runGrant(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("grant", pflag.ContinueOnError)
	dsn := fs.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	channel := fs.StringP("channel", "c", "", "channel slug")
	user := fs.String("user", "", "user id")
	role := fs.String("role", "OPERATOR", "PRODUCER, OPERATOR, LOADER or GUEST")
	redisURL := fs.String("redis-url", os.Getenv("REDIS_URL"), "role cache to invalidate, optional")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *channel == "" || *user == "" {
		return fmt.Errorf("--channel and --user are required")
	}
	catalog, closeDB, err := openCatalog(ctx, *dsn)
	if err != nil {
		return err
	}
	defer closeDB()
	member := store.Member{ChannelSlug: realtime.Slug(*channel), UserID: *user, Role: *role}
	if err := catalog.UpsertMember(ctx, member); err != nil {
		return err
	}
	if *redisURL != "" {
		cache, err := sessionstore.NewRedisStore(*redisURL, catalog, 0)
		if err != nil {
			return err
		}
		defer cache.Close()
		if err := cache.Invalidate(ctx, member.ChannelSlug, member.UserID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "granted %s %s on %s\n", member.UserID, *role, member.ChannelSlug)
	return err
}
