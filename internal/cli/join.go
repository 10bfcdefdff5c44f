package cli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harshpratap3205/VedioCall/internal/call"
	"github.com/harshpratap3205/VedioCall/internal/channel"
	"github.com/harshpratap3205/VedioCall/internal/config"
	"github.com/harshpratap3205/VedioCall/internal/media"
	"github.com/harshpratap3205/VedioCall/internal/session"
	"github.com/harshpratap3205/VedioCall/internal/signaling"
	"github.com/harshpratap3205/VedioCall/internal/ui"
)

var (
	flagJoinServer   string
	flagJoinSecure   bool
	flagJoinName     string
	flagJoinType     string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id]",
	Aliases: []string{"j"},
	Short:   "Join a call room, creating it if it does not exist",
	Long: `Join a room on the signaling server and start a call with its members.
Without a room ID a fresh one is generated, ready to share.

Examples:
  vediocall join --name Alice
  vediocall join team-standup --name Alice
  vediocall join team-standup --name Alice --type audio
  vediocall join team-standup --name Alice --relay --turn turn:turn.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = strings.TrimSpace(args[0])
		}
		if roomID == "" {
			roomID = uuid.NewString()[:8]
			ui.PrintInfof("Generated room ID: %s", roomID)
		}
		return runCall(roomID)
	},
}

func runCall(roomID string) error {
	if flagJoinName == "" {
		return fmt.Errorf("a display name is required (--name)")
	}
	if flagJoinType != "video" && flagJoinType != "audio" {
		return fmt.Errorf("room type must be video or audio, got %q", flagJoinType)
	}

	cfg, err := config.Load(config.Options{
		Server:     flagJoinServer,
		Secure:     flagJoinSecure,
		STUNServer: flagJoinSTUN,
		TURNServer: flagJoinTURN,
		TURNUser:   flagJoinTURNUser,
		TURNPass:   flagJoinTURNPass,
		ForceRelay: flagJoinRelay,
	})
	if err != nil {
		return err
	}

	source, err := media.NewSyntheticSource(true, flagJoinType == "video")
	if err != nil {
		if hint := media.Remediation(err); hint != "" {
			ui.PrintWarning(hint)
		}
		return err
	}

	model := ui.NewCallModel(roomID, flagJoinName, ui.Actions{})
	updates := model.GetUpdateChannel()

	c := call.New(cfg, source, callEvents(updates))
	model.SetActions(ui.Actions{
		ToggleAudio:  c.SetAudio,
		ToggleVideo:  c.SetVideo,
		ToggleScreen: c.SetScreenShare,
		SendChat:     c.Chat,
	})

	fmt.Println()
	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	if err := c.Join(roomID, flagJoinName, flagJoinType); err != nil {
		stopSpinner()
		c.Close()
		return err
	}
	stopSpinner()

	_, runErr := tea.NewProgram(model).Run()
	model.Close()
	c.Close()
	if runErr != nil {
		return runErr
	}

	ui.PrintSuccess("Left the room")
	return nil
}

// callEvents bridges call notifications into UI updates. Sends are
// buffered; a full channel means the UI is gone, so messages may drop.
func callEvents(updates chan<- ui.CallUpdate) call.Events {
	push := func(u ui.CallUpdate) {
		select {
		case updates <- u:
		default:
		}
	}

	return call.Events{
		OnJoined: func(roomID, userID string, others []call.Participant) {
			push(ui.CallUpdate{Type: ui.UpdateJoined})
			for _, p := range others {
				push(ui.CallUpdate{Type: ui.UpdatePeerJoined, UserID: p.ID, Name: p.Name})
				if !p.AudioEnabled {
					push(ui.CallUpdate{Type: ui.UpdatePeerToggle, UserID: p.ID, Kind: call.ToggleAudio})
				}
				if !p.VideoEnabled {
					push(ui.CallUpdate{Type: ui.UpdatePeerToggle, UserID: p.ID, Kind: call.ToggleVideo})
				}
			}
		},
		OnParticipantJoined: func(p call.Participant) {
			push(ui.CallUpdate{Type: ui.UpdatePeerJoined, UserID: p.ID, Name: p.Name})
		},
		OnParticipantLeft: func(userID, _ string) {
			push(ui.CallUpdate{Type: ui.UpdatePeerLeft, UserID: userID})
		},
		OnParticipantState: func(userID string, status session.Status) {
			push(ui.CallUpdate{Type: ui.UpdatePeerStatus, UserID: userID, Status: status.String()})
		},
		OnToggle: func(userID, kind string, enabled bool) {
			push(ui.CallUpdate{Type: ui.UpdatePeerToggle, UserID: userID, Kind: kind, Enabled: enabled})
		},
		OnChat: func(msg signaling.ChatBroadcast) {
			push(ui.CallUpdate{Type: ui.UpdateChat, Name: msg.UserName, Message: msg.Message})
		},
		OnRTT: func(userID string, rtt time.Duration) {
			push(ui.CallUpdate{Type: ui.UpdatePeerRTT, UserID: userID, RTT: rtt})
		},
		OnChannelState: func(state channel.State, err error) {
			switch state {
			case channel.StateReconnecting:
				push(ui.CallUpdate{Type: ui.UpdateReconnecting})
			case channel.StateConnected:
				push(ui.CallUpdate{Type: ui.UpdateReconnected})
			case channel.StateFailed:
				push(ui.CallUpdate{Type: ui.UpdateCallError, Error: err})
			}
		},
		OnServerError: func(message string) {
			push(ui.CallUpdate{Type: ui.UpdateChat, Name: "server", Message: message})
		},
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "Signaling server host:port")
	joinCmd.Flags().BoolVar(&flagJoinSecure, "secure", false, "Use wss/https")
	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "Display name shown to other members")
	joinCmd.Flags().StringVar(&flagJoinType, "type", "video", "Room type: video or audio")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagJoinRelay, "relay", "r", false, "Force relay mode")
}
