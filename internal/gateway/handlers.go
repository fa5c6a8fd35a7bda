package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"arbiter/internal/logging"
	"arbiter/internal/textutil"
	"arbiter/internal/track"
)

// LeaderboardRow is one ranked team in the leaderboard response.
type LeaderboardRow struct {
	Rank      int                `json:"rank"`
	Team      string             `json:"team"`
	Values    map[string]float64 `json:"values"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

// LeaderboardResponse is the body of GET /:track/.
type LeaderboardResponse struct {
	Track     track.ID         `json:"track"`
	Label     string           `json:"label"`
	Primary   string           `json:"primary"`
	Direction string           `json:"direction"`
	Columns   []string         `json:"columns"`
	Ranks     []LeaderboardRow `json:"ranks"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) trackParam(c echo.Context) (track.Definition, error) {
	id, err := track.Parse(c.Param("track"))
	if err != nil || !s.enabled[id] {
		return track.Definition{}, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown track %q", c.Param("track")))
	}
	return track.MustLookup(id), nil
}

func (s *Server) leaderboard(c echo.Context) error {
	def, err := s.trackParam(c)
	if err != nil {
		return err
	}
	rows, err := s.board.GetTop(c.Request().Context(), def.ID, s.cfg.Gateway.TopN)
	if err != nil {
		return err
	}
	resp := LeaderboardResponse{
		Track:     def.ID,
		Label:     def.Label(),
		Primary:   def.Primary,
		Direction: def.Direction.String(),
		Columns:   def.ColumnNames(),
		Ranks:     make([]LeaderboardRow, 0, len(rows)),
	}
	for _, row := range rows {
		out := LeaderboardRow{Rank: row.Rank, Team: row.Team, Values: row.Values}
		if row.Scored() {
			at := row.UpdatedAt
			out.UpdatedAt = &at
		}
		resp.Ranks = append(resp.Ranks, out)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) expectedFiles(c echo.Context) error {
	def, err := s.trackParam(c)
	if err != nil {
		return err
	}
	expected, err := ExpectedFiles(def, s.cfg.TrackTruthDir(def.ID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, expected)
}

func (s *Server) submit(c echo.Context) error {
	def, err := s.trackParam(c)
	if err != nil {
		return err
	}
	outcome := "rejected"
	defer func() { s.metrics.Upload(string(def.ID), outcome) }()

	if minFree := uint64(s.cfg.Gateway.MinFreeMiB) * mib; minFree > 0 {
		free, err := s.freeSpace(s.cfg.Paths.SubmissionsDir)
		if err != nil {
			return fmt.Errorf("check free space: %w", err)
		}
		if free < minFree {
			outcome = "no_space"
			logging.WarnWithContext(s.logger, "upload refused for low disk space", "upload_no_space",
				logging.String(logging.FieldTrack, string(def.ID)),
				logging.Int("free_mib", int(free/mib)),
				logging.String(logging.FieldImpact, "teams cannot submit until space is freed"),
				logging.String(logging.FieldErrorHint, "prune old submission instances or grow the volume"),
			)
			return echo.NewHTTPError(http.StatusInsufficientStorage, "submission storage is full")
		}
	}

	team := c.FormValue("teamName")
	emails := textutil.SplitContacts(c.FormValue("emails"))
	header, err := c.FormFile("submission")
	if err != nil {
		return invalid("submission archive is required")
	}
	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	spooled, err := s.intake.Spool(src)
	_ = src.Close()
	if err != nil {
		return err
	}
	defer os.Remove(spooled)

	inst, err := s.intake.Accept(c.Request().Context(), def.ID, team, emails, spooled)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			s.logger.Info("upload rejected",
				logging.String(logging.FieldEventType, "upload_rejected"),
				logging.String(logging.FieldTrack, string(def.ID)),
				logging.String(logging.FieldTeam, team),
				logging.Any("problems", ve.Problems),
			)
		}
		return err
	}
	outcome = "accepted"
	if s.trigger != nil {
		s.trigger.TriggerScan(def.ID, "upload")
	}
	c.Response().Header().Set("X-Submission-Instance", inst.Name)
	return c.Redirect(http.StatusSeeOther, "/"+string(def.ID)+"/")
}
