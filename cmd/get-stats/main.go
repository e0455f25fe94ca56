// Command get-stats prints the overlay stats for a player without starting the server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Amund211/chessoverlay/internal/adapters/cache"
	"github.com/Amund211/chessoverlay/internal/adapters/chesscom"
	"github.com/Amund211/chessoverlay/internal/adapters/lichess"
	"github.com/Amund211/chessoverlay/internal/app"
	"github.com/Amund211/chessoverlay/internal/domain"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/alecthomas/kong"
)

type clients struct {
	lichess  *lichess.Lichess
	chesscom *chesscom.ChessCom
}

func (c clients) sources() map[domain.Platform]app.GameSource {
	return map[domain.Platform]app.GameSource{
		domain.PlatformLichess:  c.lichess,
		domain.PlatformChessCom: c.chesscom,
	}
}

func (c clients) detector() app.DetectActiveTournament {
	return app.BuildDetectActiveTournament(c.lichess, c.chesscom, cache.NewBasicCache[domain.TournamentDetail](), time.After)
}

type playerFlags struct {
	Platform string `arg:"" enum:"lichess,chesscom" help:"Platform to query (lichess or chesscom)."`
	Username string `arg:"" help:"Player username."`
}

type statsCommand struct {
	playerFlags

	Category string `default:"blitz" enum:"bullet,blitz,rapid,classical,daily,best" help:"Rating category to show."`
}

func (c *statsCommand) Run(ctx context.Context, cl clients) error {
	cfg := domain.WidgetConfig{
		Platform:       domain.Platform(c.Platform),
		Username:       c.Username,
		RatingCategory: domain.RatingCategory(c.Category),
	}
	refresh := app.BuildRefreshStats(cl.sources(), cl.detector(), app.BuildFetchStanding(cl.lichess, cl.chesscom), time.Now)

	result, err := refresh(ctx, cfg, nil)
	if err != nil {
		return err
	}

	stats := app.MergeReduction(domain.NewStats(), result.Reduction, domain.Adjustments{})
	stats.Rating = result.Rating.Value
	stats.RatingCategory = result.Rating.Category
	stats.Tournament = result.Tournament

	return renderStats(os.Stdout, stats)
}

type tournamentCommand struct {
	playerFlags
}

func (c *tournamentCommand) Run(ctx context.Context, cl clients) error {
	platform := domain.Platform(c.Platform)

	tournament, err := cl.detector()(ctx, platform, c.Username, time.Now())
	if err != nil {
		return err
	}
	if tournament != nil {
		standing, err := app.BuildFetchStanding(cl.lichess, cl.chesscom)(ctx, platform, tournament.ID, c.Username)
		if err == nil {
			withStanding := tournament.WithStanding(*standing)
			tournament = &withStanding
		} else {
			logging.FromContext(ctx).WarnContext(ctx, "Could not fetch standings", "error", err.Error())
		}
	}

	return renderTournament(os.Stdout, tournament)
}

type cli struct {
	Verbose bool `short:"v" help:"Log adapter activity to stderr."`

	Stats      statsCommand      `cmd:"" help:"Fetch and reduce the recent games of a player."`
	Tournament tournamentCommand `cmd:"" help:"Detect the tournament a player is currently playing."`
}

func main() {
	c := &cli{}
	kctx := kong.Parse(c,
		kong.Name("get-stats"),
		kong.Description("Print chess overlay stats for a player."),
		kong.UsageOnError(),
	)

	level := slog.LevelError
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logging.SetFallback(logger)

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	lichessClient, err := lichess.NewLichess(httpClient, time.Now)
	kctx.FatalIfErrorf(err)
	chesscomClient, err := chesscom.NewChessCom(httpClient, time.Now, time.After)
	kctx.FatalIfErrorf(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logging.AddToContext(ctx, logger)

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(clients{lichess: lichessClient, chesscom: chesscomClient})
	kctx.FatalIfErrorf(kctx.Run())
}
