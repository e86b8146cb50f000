// Package tui is the terminal front end of the player.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"musicbox/internal/client"
	"musicbox/internal/player"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	tabStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62"))
	playingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	badgeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	seekStep   = 10 * time.Second
	noticeTTL  = 4 * time.Second
	tickEvery  = 500 * time.Millisecond
	requestTTL = 30 * time.Second
)

// Session is what the player needs from a client session.
type Session interface {
	Controller() *player.Controller
	Active() string
	Playlists() []string
	Songs() []client.Song
	Refresh(ctx context.Context) error
	Switch(ctx context.Context, name string) error
	DeleteSong(ctx context.Context, songID string) (string, error)
}

// Notifier forwards controller notices to the running program. Notices
// are dropped when nobody is reading.
type Notifier chan player.Notice

func (n Notifier) Notify(x player.Notice) {
	select {
	case n <- x:
	default:
	}
}

type tickMsg time.Time

type noticeMsg player.Notice

// doneMsg reports a finished network operation.
type doneMsg struct {
	text string
	err  error
}

type model struct {
	sess    Session
	notices <-chan player.Notice

	cursor  int
	offset  int
	width   int
	height  int
	busy    bool
	confirm bool

	notice   player.Notice
	noticeAt time.Time
	now      func() time.Time
}

func newModel(sess Session, notices <-chan player.Notice) model {
	return model{
		sess:    sess,
		notices: notices,
		height:  24,
		now:     time.Now,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitForNotice())
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) waitForNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	ch := m.notices
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// run executes a session call off the update loop.
func (m model) run(text string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTTL)
		defer cancel()
		return doneMsg{text: text, err: fn(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if !m.noticeAt.IsZero() && m.now().Sub(m.noticeAt) > noticeTTL {
			m.notice = player.Notice{}
			m.noticeAt = time.Time{}
		}
		return m, tickCmd()

	case noticeMsg:
		m = m.show(player.Notice(msg))
		return m, m.waitForNotice()

	case doneMsg:
		m.busy = false
		if msg.err != nil {
			m = m.show(player.Notice{Level: player.NoticeError, Message: msg.err.Error()})
		} else if msg.text != "" {
			m = m.show(player.Notice{Level: player.NoticeInfo, Message: msg.text})
		}
		m = m.clampCursor()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.sess.Controller()

	if m.confirm {
		m.confirm = false
		if msg.String() != "y" && msg.String() != "Y" {
			return m, nil
		}
		songs := m.sess.Songs()
		if m.cursor >= len(songs) {
			return m, nil
		}
		song := songs[m.cursor]
		m.busy = true
		sess := m.sess
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTTL)
			defer cancel()
			outcome, err := sess.DeleteSong(ctx, song.ID)
			return doneMsg{text: fmt.Sprintf("%q %s", song.Name, outcome), err: err}
		}
	}

	switch msg.String() {
	case "q", "ctrl+c", "esc":
		ctrl.Stop()
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.sess.Songs())-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(0, len(m.sess.Songs())-1)
	case "enter":
		m = m.report(ctrl.Select(m.cursor))
	case " ":
		m = m.report(ctrl.Toggle())
	case "n":
		m = m.report(ctrl.Next())
	case "p":
		m = m.report(ctrl.Previous())
	case "s":
		on := ctrl.ToggleShuffle()
		m = m.show(player.Notice{Message: "Shuffle " + onOff(on)})
	case "r":
		mode := ctrl.ToggleRepeat()
		m = m.show(player.Notice{Message: "Repeat " + mode.String()})
	case "right", "l":
		st := ctrl.Status()
		m = m.report(ctrl.Seek(st.Position + seekStep))
	case "left", "h":
		st := ctrl.Status()
		m = m.report(ctrl.Seek(st.Position - seekStep))
	case "tab":
		return m.switchBy(1)
	case "shift+tab":
		return m.switchBy(-1)
	case "d", "delete":
		if len(m.sess.Songs()) > 0 && !m.busy {
			m.confirm = true
		}
	case "R":
		if !m.busy {
			m.busy = true
			return m, m.run("Refreshed", m.sess.Refresh)
		}
	}
	m = m.follow()
	return m, nil
}

func (m model) switchBy(delta int) (tea.Model, tea.Cmd) {
	names := m.sess.Playlists()
	if len(names) < 2 || m.busy {
		return m, nil
	}
	i := slices.Index(names, m.sess.Active())
	next := names[(i+delta+len(names))%len(names)]
	m.cursor = 0
	m.offset = 0
	m.busy = true
	return m, m.run("", func(ctx context.Context) error {
		return m.sess.Switch(ctx, next)
	})
}

func (m model) report(err error) model {
	if err != nil {
		return m.show(player.Notice{Level: player.NoticeError, Message: err.Error()})
	}
	return m
}

func (m model) show(n player.Notice) model {
	m.notice = n
	m.noticeAt = m.now()
	return m
}

func (m model) clampCursor() model {
	n := len(m.sess.Songs())
	if m.cursor >= n {
		m.cursor = max(0, n-1)
	}
	return m.follow()
}

// follow keeps the cursor inside the visible window.
func (m model) follow() model {
	rows := m.listRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
	return m
}

func (m model) listRows() int {
	// Title, tabs, blank, status, progress, notice, help.
	return max(3, m.height-7)
}

func (m model) View() string {
	var b strings.Builder
	ctrl := m.sess.Controller()
	st := ctrl.Status()

	b.WriteString(titleStyle.Render("♫ musicbox"))
	if m.busy {
		b.WriteString(dimStyle.Render("  working..."))
	}
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")
	b.WriteString(m.renderSongs(st))
	b.WriteString("\n")
	b.WriteString(renderStatus(st))
	b.WriteString("\n")
	b.WriteString(m.renderNotice())
	b.WriteString("\n")
	if m.confirm {
		b.WriteString(errorStyle.Render(m.confirmText()))
	} else {
		b.WriteString(helpStyle.Render("↑/↓ move  enter play  space pause  n/p next/prev  s shuffle  r repeat  ←/→ seek  tab playlist  d delete  R refresh  q quit"))
	}
	return b.String()
}

func (m model) renderTabs() string {
	active := m.sess.Active()
	tabs := make([]string, 0, len(m.sess.Playlists()))
	for _, name := range m.sess.Playlists() {
		if name == active {
			tabs = append(tabs, activeTab.Render(name))
		} else {
			tabs = append(tabs, tabStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m model) renderSongs(st player.Status) string {
	songs := m.sess.Songs()
	if len(songs) == 0 {
		return dimStyle.Render("  (no songs, upload some with `musicctl upload`)") + "\n"
	}

	var b strings.Builder
	end := min(len(songs), m.offset+m.listRows())
	for i := m.offset; i < end; i++ {
		marker := "  "
		if i == st.Index && st.State != player.Stopped {
			marker = "▶ "
		}
		line := fmt.Sprintf("%s%3d. %s", marker, i+1, songs[i].Name)
		if songs[i].DurationMs > 0 {
			line += dimStyle.Render("  " + clock(time.Duration(songs[i].DurationMs)*time.Millisecond))
		}
		switch {
		case i == m.cursor:
			line = selectedStyle.Render(line)
		case i == st.Index:
			line = playingStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func renderStatus(st player.Status) string {
	icon := "■"
	switch st.State {
	case player.Playing:
		icon = "▶"
	case player.Paused:
		icon = "⏸"
	}

	name := dimStyle.Render("nothing playing")
	if st.Track != nil {
		name = playingStyle.Render(st.Track.Name)
	}

	badges := []string{}
	if st.Shuffle {
		badges = append(badges, "shuffle")
	}
	if st.Repeat != player.RepeatOff {
		badges = append(badges, "repeat "+st.Repeat.String())
	}

	line := fmt.Sprintf("%s %s", icon, name)
	if len(badges) > 0 {
		line += "  " + badgeStyle.Render("["+strings.Join(badges, ", ")+"]")
	}
	return line + "\n" + progress(st.Position, st.Duration, 40)
}

func (m model) renderNotice() string {
	if m.notice.Message == "" {
		return ""
	}
	style := infoStyle
	switch m.notice.Level {
	case player.NoticeWarn:
		style = warnStyle
	case player.NoticeError:
		style = errorStyle
	}
	return style.Render(m.notice.Message)
}

func (m model) confirmText() string {
	songs := m.sess.Songs()
	if m.cursor >= len(songs) {
		return ""
	}
	verb := "Remove"
	where := "from " + m.sess.Active()
	if len(m.sess.Playlists()) > 0 && m.sess.Active() == m.sess.Playlists()[0] {
		verb = "Delete"
		where = "everywhere"
	}
	return fmt.Sprintf("%s %q %s? (y/n)", verb, songs[m.cursor].Name, where)
}

func progress(pos, total time.Duration, width int) string {
	if total <= 0 {
		return dimStyle.Render(clock(pos))
	}
	filled := int(float64(width) * float64(pos) / float64(total))
	filled = min(max(filled, 0), width)
	bar := strings.Repeat("━", filled) + dimStyle.Render(strings.Repeat("─", width-filled))
	return fmt.Sprintf("%s %s / %s", bar, clock(pos), clock(total))
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Run starts the terminal player and blocks until the user quits.
func Run(sess Session, notices <-chan player.Notice) error {
	p := tea.NewProgram(newModel(sess, notices), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
