package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// CallState represents the call screen's current phase
type CallState int

const (
	CallStateConnecting CallState = iota
	CallStateWaiting
	CallStateLive
	CallStateReconnecting
	CallStateEnded
	CallStateError
)

// CallUpdate is a message sent from external goroutines to update the UI
type CallUpdate struct {
	Type    CallUpdateType
	UserID  string
	Name    string
	Status  string
	Kind    string
	Enabled bool
	RTT     time.Duration
	Message string
	Error   error
}

type CallUpdateType int

const (
	UpdateJoined CallUpdateType = iota
	UpdatePeerJoined
	UpdatePeerLeft
	UpdatePeerStatus
	UpdatePeerToggle
	UpdatePeerRTT
	UpdateChat
	UpdateReconnecting
	UpdateReconnected
	UpdateCallError
)

// Actions are the in-call controls the model invokes on key presses.
// Handlers run on the bubbletea goroutine and must not block.
type Actions struct {
	ToggleAudio  func(enabled bool) error
	ToggleVideo  func(enabled bool) error
	ToggleScreen func(enabled bool) error
	SendChat     func(message string) error
}

type callPeer struct {
	name   string
	status string
	audio  bool
	video  bool
	screen bool
	rtt    time.Duration
}

const chatLogSize = 8

// CallModel is the Bubble Tea model for a live call.
type CallModel struct {
	roomID   string
	userName string

	state    CallState
	stateMsg string

	spinner spinner.Model
	actions Actions

	// Local media flags, flipped by key presses.
	audioOn  bool
	videoOn  bool
	screenOn bool

	// Chat input line, active while typing is true.
	typing bool
	input  strings.Builder

	mu       sync.RWMutex
	peers    map[string]*callPeer
	order    []string
	chatLog  []string
	width    int
	lastErr  error
	updateCh chan CallUpdate
	done     chan struct{}
}

// NewCallModel creates the live call screen for one room.
func NewCallModel(roomID, userName string, actions Actions) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		roomID:   roomID,
		userName: userName,
		state:    CallStateConnecting,
		stateMsg: "Connecting to room...",
		spinner:  s,
		actions:  actions,
		audioOn:  true,
		videoOn:  true,
		peers:    make(map[string]*callPeer),
		updateCh: make(chan CallUpdate, 100),
		done:     make(chan struct{}),
		width:    80,
	}
}

// GetUpdateChannel returns the channel for sending updates
func (m *CallModel) GetUpdateChannel() chan<- CallUpdate {
	return m.updateCh
}

// SetActions installs the in-call controls. Must be called before the
// program runs.
func (m *CallModel) SetActions(actions Actions) {
	m.actions = actions
}

// Close releases the model's update listener.
func (m *CallModel) Close() {
	close(m.done)
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates())
}

func (m *CallModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.updateCh:
			return update
		case <-m.done:
			return nil
		}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case CallUpdate:
		m.handleUpdate(msg)
		cmds = append(cmds, m.waitForUpdates())
	}

	return m, tea.Batch(cmds...)
}

func (m *CallModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.typing {
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(m.input.String())
			m.input.Reset()
			m.typing = false
			if text != "" && m.actions.SendChat != nil {
				if err := m.actions.SendChat(text); err != nil {
					m.appendChat(MutedStyle.Render("(not sent: " + err.Error() + ")"))
				}
			}
		case "esc":
			m.input.Reset()
			m.typing = false
		case "backspace":
			s := m.input.String()
			if len(s) > 0 {
				m.input.Reset()
				m.input.WriteString(s[:len(s)-1])
			}
		default:
			switch msg.Type {
			case tea.KeyRunes:
				m.input.WriteString(string(msg.Runes))
			case tea.KeySpace:
				m.input.WriteString(" ")
			}
		}
		return nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "t":
		m.typing = true
	case "m":
		if m.actions.ToggleAudio != nil && m.actions.ToggleAudio(!m.audioOn) == nil {
			m.audioOn = !m.audioOn
		}
	case "v":
		if m.actions.ToggleVideo != nil && m.actions.ToggleVideo(!m.videoOn) == nil {
			m.videoOn = !m.videoOn
		}
	case "s":
		if m.actions.ToggleScreen != nil && m.actions.ToggleScreen(!m.screenOn) == nil {
			m.screenOn = !m.screenOn
		}
	}
	return nil
}

func (m *CallModel) handleUpdate(update CallUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch update.Type {
	case UpdateJoined:
		if len(m.peers) == 0 {
			m.state = CallStateWaiting
			m.stateMsg = "Waiting for others to join..."
		} else {
			m.state = CallStateLive
		}

	case UpdatePeerJoined:
		if _, ok := m.peers[update.UserID]; !ok {
			m.order = append(m.order, update.UserID)
		}
		m.peers[update.UserID] = &callPeer{
			name:   update.Name,
			status: "negotiating",
			audio:  true,
			video:  true,
		}
		m.state = CallStateLive

	case UpdatePeerLeft:
		delete(m.peers, update.UserID)
		for i, id := range m.order {
			if id == update.UserID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		if len(m.peers) == 0 && m.state == CallStateLive {
			m.state = CallStateWaiting
			m.stateMsg = "Waiting for others to join..."
		}

	case UpdatePeerStatus:
		if p, ok := m.peers[update.UserID]; ok {
			p.status = update.Status
		}

	case UpdatePeerToggle:
		if p, ok := m.peers[update.UserID]; ok {
			switch update.Kind {
			case "audio":
				p.audio = update.Enabled
			case "video":
				p.video = update.Enabled
			case "screen":
				p.screen = update.Enabled
			}
		}

	case UpdatePeerRTT:
		if p, ok := m.peers[update.UserID]; ok {
			p.rtt = update.RTT
		}

	case UpdateChat:
		m.chatLog = append(m.chatLog, fmt.Sprintf("%s %s: %s",
			IconChat, BoldStyle.Render(update.Name), update.Message))
		if len(m.chatLog) > chatLogSize {
			m.chatLog = m.chatLog[len(m.chatLog)-chatLogSize:]
		}

	case UpdateReconnecting:
		m.state = CallStateReconnecting
		m.stateMsg = "Signaling lost, reconnecting..."

	case UpdateReconnected:
		if len(m.peers) == 0 {
			m.state = CallStateWaiting
			m.stateMsg = "Waiting for others to join..."
		} else {
			m.state = CallStateLive
		}

	case UpdateCallError:
		m.state = CallStateError
		m.lastErr = update.Error
	}
}

func (m *CallModel) appendChat(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatLog = append(m.chatLog, line)
	if len(m.chatLog) > chatLogSize {
		m.chatLog = m.chatLog[len(m.chatLog)-chatLogSize:]
	}
}

func (m *CallModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s VedioCall - Room %s", IconRoom, m.roomID))
	b.WriteString(header + "\n\n")

	switch m.state {
	case CallStateConnecting:
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.stateMsg))

	case CallStateWaiting:
		b.WriteString(m.viewRoomBox())
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.stateMsg))

	case CallStateLive:
		b.WriteString(m.viewPeers())
		b.WriteString("\n")
		b.WriteString(m.viewChat())

	case CallStateReconnecting:
		b.WriteString(WarningStyle.Render(fmt.Sprintf("%s %s", IconWarning, m.stateMsg)))
		b.WriteString("\n\n")
		b.WriteString(m.viewPeers())

	case CallStateEnded:
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("%s Call ended", IconSuccess)))

	case CallStateError:
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("%s Call failed", IconError)))
		if m.lastErr != nil {
			b.WriteString("\n\n" + ErrorBoxStyle.Render(m.lastErr.Error()))
		}
	}

	b.WriteString("\n" + m.viewFooter())
	return ContainerStyle.Render(b.String())
}

func (m *CallModel) viewRoomBox() string {
	content := fmt.Sprintf("%s Room ID:  %s\n%s Share it so others can join",
		IconRoom, BoldStyle.Foreground(Primary).Render(m.roomID),
		IconPeer)
	return BoxStyle.Render(content)
}

func (m *CallModel) viewPeers() string {
	rows := make([]ParticipantRow, 0, len(m.order))
	for _, id := range m.order {
		p, ok := m.peers[id]
		if !ok {
			continue
		}
		rows = append(rows, ParticipantRow{
			Name:   p.name,
			Status: p.status,
			Audio:  p.audio,
			Video:  p.video,
			Screen: p.screen,
			RTT:    p.rtt,
		})
	}
	return NewParticipantTable(rows).View()
}

func (m *CallModel) viewChat() string {
	var b strings.Builder
	for _, line := range m.chatLog {
		b.WriteString(line + "\n")
	}
	if m.typing {
		b.WriteString(fmt.Sprintf("%s > %s█", IconChat, m.input.String()))
	}
	return b.String()
}

func (m *CallModel) viewFooter() string {
	if m.typing {
		return FooterStyle.Render("Enter to send, Esc to cancel")
	}

	mic := "m mute"
	if !m.audioOn {
		mic = "m unmute"
	}
	cam := "v camera off"
	if !m.videoOn {
		cam = "v camera on"
	}
	screen := "s share screen"
	if m.screenOn {
		screen = "s stop sharing"
	}
	return FooterStyle.Render(fmt.Sprintf("%s • %s • %s • t chat • q leave", mic, cam, screen))
}
