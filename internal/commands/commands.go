// Package commands parses chat commands and calls into the service layer.
// Command names are flat ("/dead", "/fixadd") because Telegram has no
// subcommand UI; boss names are single tokens.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"bossbot/internal/domain"
	"bossbot/internal/service"
	"bossbot/internal/store"
	"bossbot/internal/transport"
	"bossbot/pkg/logx"
)

const platform = "telegram"

type Deps struct {
	Service *service.Service
	Store   store.Store
	Log     logx.Logger

	// Loc is the timezone death times are entered in.
	Loc         *time.Location
	DefaultGame string
	// AdminUserIDs restricts mutating commands when non-empty.
	AdminUserIDs []int64
}

type request struct {
	msg  transport.Message
	args []string
	game domain.Game
}

type handlerFunc func(ctx context.Context, req request) (string, error)

type Handler struct {
	deps  Deps
	table map[string]handlerFunc
	now   func() time.Time
}

func New(deps Deps) *Handler {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Loc == nil {
		deps.Loc = time.UTC
	}
	h := &Handler{deps: deps, now: time.Now}
	h.table = map[string]handlerFunc{
		"dead":      h.cmdDead,
		"bossadd":   h.cmdBossAdd,
		"bossdel":   h.cmdBossDel,
		"reset":     h.cmdReset,
		"resetall":  h.cmdResetAll,
		"fixadd":    h.cmdFixAdd,
		"fixlist":   h.cmdFixList,
		"fixdel":    h.cmdFixDel,
		"fixtoggle": h.cmdFixToggle,
		"schedule":  h.cmdSchedule,
		"bind":      h.cmdBind,
		"import":    h.cmdImport,
		"help":      h.cmdHelp,
		"start":     h.cmdHelp,
	}
	return h
}

// Handle dispatches one inbound message. The returned reply is empty when
// the message is not a command for this bot.
func (h *Handler) Handle(ctx context.Context, msg transport.Message) string {
	name, args, ok := splitCommand(msg.Text)
	if !ok {
		return ""
	}
	fn, ok := h.table[name]
	if !ok {
		return ""
	}
	if !h.allowed(msg.FromID) {
		return "You are not allowed to manage bosses here."
	}

	game, err := h.resolveGame(ctx)
	if err != nil {
		h.deps.Log.Warn("game resolution failed", logx.Err(err))
		return "Internal error, try again."
	}

	reply, err := fn(ctx, request{msg: msg, args: args, game: game})
	if err != nil {
		h.deps.Log.Warn("command failed",
			logx.String("command", name),
			logx.Int64("from", msg.FromID),
			logx.Err(err))
		if reply == "" {
			reply = "Command failed: " + err.Error()
		}
	}
	return reply
}

// splitCommand extracts the command name and arguments from "/name@bot a b".
func splitCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:], true
}

func (h *Handler) allowed(userID int64) bool {
	if len(h.deps.AdminUserIDs) == 0 {
		return true
	}
	for _, id := range h.deps.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// resolveGame returns the configured game, creating it on first reference.
func (h *Handler) resolveGame(ctx context.Context) (domain.Game, error) {
	code := h.deps.DefaultGame
	if code == "" {
		code = "default"
	}
	g, err := h.deps.Store.GetGameByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		g = domain.Game{ID: uuid.NewString(), Code: code, Name: code}
		if err := h.deps.Store.UpsertGame(ctx, g); err != nil {
			return domain.Game{}, err
		}
		return g, nil
	}
	return g, err
}

func (h *Handler) bossByName(ctx context.Context, req request, name string) (*domain.Boss, error) {
	b, err := h.deps.Store.GetBossByName(ctx, req.game.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("boss %q is not tracked", name)
	}
	return b, err
}

func (h *Handler) cmdDead(ctx context.Context, req request) (string, error) {
	if len(req.args) < 1 {
		return "Usage: /dead <boss> [HH:MM] [DD/MM/YY]", nil
	}
	b, err := h.bossByName(ctx, req, req.args[0])
	if err != nil {
		return "", err
	}
	deathAt := h.now()
	if len(req.args) > 1 {
		deathAt, err = parseDeathTime(strings.Join(req.args[1:], " "), h.now(), h.deps.Loc)
		if err != nil {
			return "", err
		}
	}

	next, err := h.deps.Service.RecordDeath(ctx, b.ID, deathAt)
	if err != nil {
		return "", err
	}
	if next == nil {
		return fmt.Sprintf("Death of %s recorded at %s. No respawn timer configured.",
			b.Name, h.fmtTime(deathAt)), nil
	}
	return fmt.Sprintf("Death of %s recorded at %s.\nNext spawn: %s",
		b.Name, h.fmtTime(deathAt), h.fmtTime(*next)), nil
}

func (h *Handler) cmdBossAdd(ctx context.Context, req request) (string, error) {
	if len(req.args) < 2 {
		return "Usage: /bossadd <name> <respawn-hours>", nil
	}
	hours, err := strconv.Atoi(req.args[1])
	if err != nil {
		return "", fmt.Errorf("respawn hours %q is not a number", req.args[1])
	}
	b, err := h.deps.Service.AddBoss(ctx, req.game.ID, req.args[0], hours)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Boss %s added (respawns every %dh).", b.Name, b.RespawnHours), nil
}

func (h *Handler) cmdBossDel(ctx context.Context, req request) (string, error) {
	if len(req.args) < 1 {
		return "Usage: /bossdel <name>", nil
	}
	b, err := h.bossByName(ctx, req, req.args[0])
	if err != nil {
		return "", err
	}
	if err := h.deps.Service.DeleteBoss(ctx, b.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Boss %s removed.", b.Name), nil
}

func (h *Handler) cmdReset(ctx context.Context, req request) (string, error) {
	if len(req.args) < 1 {
		return "Usage: /reset <name>", nil
	}
	b, err := h.bossByName(ctx, req, req.args[0])
	if err != nil {
		return "", err
	}
	if err := h.deps.Service.ResetBoss(ctx, b.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Timers for %s cleared.", b.Name), nil
}

func (h *Handler) cmdResetAll(ctx context.Context, req request) (string, error) {
	n, err := h.deps.Service.ResetAllDaily(ctx, req.game.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d daily bosses reset to spawnable now. Fixed-time bosses keep their calendar.", n), nil
}

func (h *Handler) cmdFixAdd(ctx context.Context, req request) (string, error) {
	// /fixadd <boss> <min> <hour> <dom> <mon> <dow> [tz]
	if len(req.args) < 6 {
		return "Usage: /fixadd <boss> <min> <hour> <dom> <mon> <dow> [tz]", nil
	}
	b, err := h.bossByName(ctx, req, req.args[0])
	if err != nil {
		return "", err
	}
	expr := strings.Join(req.args[1:6], " ")
	tz := h.deps.Loc.String()
	if len(req.args) > 6 {
		tz = req.args[6]
	}
	r, err := h.deps.Service.AddRule(ctx, b.ID, expr, tz)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Rule %s added for %s: %s (%s)", shortID(r.ID), b.Name, expr, tz), nil
}

func (h *Handler) cmdFixList(ctx context.Context, req request) (string, error) {
	bosses, err := h.deps.Store.ListBosses(ctx, req.game.ID)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range bosses {
		for _, r := range b.Rules {
			state := "on"
			if !r.Enabled {
				state = "off"
			}
			fmt.Fprintf(&sb, "%s  %s  %q %s  [%s]\n", shortID(r.ID), b.Name, r.Expr, r.TZ, state)
		}
	}
	if sb.Len() == 0 {
		return "No fixed-time rules.", nil
	}
	return sb.String(), nil
}

func (h *Handler) cmdFixDel(ctx context.Context, req request) (string, error) {
	if len(req.args) < 1 {
		return "Usage: /fixdel <rule-id>", nil
	}
	r, err := h.ruleByShortID(ctx, req, req.args[0])
	if err != nil {
		return "", err
	}
	if err := h.deps.Service.RemoveRule(ctx, r.BossID, r.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Rule %s removed.", shortID(r.ID)), nil
}

func (h *Handler) cmdFixToggle(ctx context.Context, req request) (string, error) {
	if len(req.args) < 2 {
		return "Usage: /fixtoggle <rule-id> on|off", nil
	}
	var enabled bool
	switch strings.ToLower(req.args[1]) {
	case "on", "true", "1":
		enabled = true
	case "off", "false", "0":
		enabled = false
	default:
		return "", fmt.Errorf("expected on or off, got %q", req.args[1])
	}
	r, err := h.ruleByShortID(ctx, req, req.args[0])
	if err != nil {
		return "", err
	}
	if err := h.deps.Service.ToggleRule(ctx, r.BossID, r.ID, enabled); err != nil {
		return "", err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("Rule %s %s.", shortID(r.ID), state), nil
}

// ruleByShortID matches a rule by full or shortened id across the game.
func (h *Handler) ruleByShortID(ctx context.Context, req request, id string) (*domain.CalendarRule, error) {
	bosses, err := h.deps.Store.ListBosses(ctx, req.game.ID)
	if err != nil {
		return nil, err
	}
	var found *domain.CalendarRule
	for _, b := range bosses {
		for i := range b.Rules {
			r := &b.Rules[i]
			if r.ID == id || shortID(r.ID) == id {
				if found != nil {
					return nil, fmt.Errorf("rule id %q is ambiguous, use the full id", id)
				}
				found = r
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("rule %q not found", id)
	}
	return found, nil
}

func (h *Handler) cmdSchedule(ctx context.Context, req request) (string, error) {
	rows, err := h.deps.Service.Overview(ctx, req.game.ID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No bosses tracked yet. Add one with /bossadd.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bosses (%s):\n", req.game.Code)
	for _, r := range rows {
		switch {
		case r.Fixed && r.Live:
			fmt.Fprintf(&sb, "🟢 %s - live now", r.Boss.Name)
		case r.NextSpawnAt != nil:
			fmt.Fprintf(&sb, "⏳ %s - next %s", r.Boss.Name, h.fmtTime(*r.NextSpawnAt))
		default:
			fmt.Fprintf(&sb, "⚪ %s - no timer", r.Boss.Name)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (h *Handler) cmdBind(ctx context.Context, req request) (string, error) {
	b := domain.GuildBinding{
		ID:         uuid.NewString(),
		Platform:   platform,
		ExternalID: strconv.FormatInt(req.msg.ChatID, 10),
		GameID:     req.game.ID,
		ChatID:     req.msg.ChatID,
		ThreadID:   req.msg.ThreadID,
	}
	if err := h.deps.Store.UpsertBinding(ctx, b); err != nil {
		return "", err
	}
	return fmt.Sprintf("This chat now receives %s announcements.", req.game.Code), nil
}

// cmdImport applies "name HH:MM [DD/MM/YY]" lines following the command.
func (h *Handler) cmdImport(ctx context.Context, req request) (string, error) {
	lines := strings.Split(req.msg.Text, "\n")[1:]
	var entries []service.ImportEntry
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		at, err := parseDeathTime(strings.Join(fields[1:], " "), h.now(), h.deps.Loc)
		if err != nil {
			return "", fmt.Errorf("line %q: %w", line, err)
		}
		entries = append(entries, service.ImportEntry{Name: fields[0], DeathAt: at})
	}
	if len(entries) == 0 {
		return "Usage: /import, then one \"name HH:MM [DD/MM/YY]\" per line.", nil
	}
	applied, skipped, err := h.deps.Service.BulkImport(ctx, req.game.ID, entries)
	if err != nil {
		return "", err
	}
	reply := fmt.Sprintf("%d deaths imported.", applied)
	if len(skipped) > 0 {
		reply += " Skipped: " + strings.Join(skipped, ", ")
	}
	return reply, nil
}

func (h *Handler) cmdHelp(context.Context, request) (string, error) {
	return `Boss respawn tracker:
/dead <boss> [HH:MM] [DD/MM/YY] - record a death
/schedule - upcoming spawns
/bossadd <name> <hours> - track a daily boss
/bossdel <name>
/reset <name> - clear one boss's timers
/resetall - daily bosses spawnable now
/fixadd <boss> <cron 5 fields> [tz] - calendar spawn rule
/fixlist /fixdel <id> /fixtoggle <id> on|off
/import - bulk deaths, one "name HH:MM" per line
/bind - announce spawns in this chat`, nil
}

// parseDeathTime reads "HH:MM" with an optional "DD/MM/YY", interpreted in
// loc; the date defaults to today.
func parseDeathTime(text string, now time.Time, loc *time.Location) (time.Time, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return time.Time{}, errors.New("missing time")
	}
	dmy := now.In(loc).Format("02/01/06")
	if len(fields) > 1 {
		dmy = fields[1]
	}
	t, err := time.ParseInLocation("02/01/06 15:04", dmy+" "+fields[0], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("time must look like \"07:26\" or \"07:26 02/09/25\": %w", err)
	}
	return t, nil
}

func (h *Handler) fmtTime(t time.Time) string {
	return t.In(h.deps.Loc).Format("02/01/06 15:04")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
