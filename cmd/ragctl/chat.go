package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/ragd/internal/http"
)

// Lipgloss styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		collection string
		session    string
		k          int
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation against a collection",
		Long: `Open an interactive chat. Every question is sent with the same session,
so answers can refer back to earlier turns.

Keys: enter sends, ctrl+r resets the session, esc or ctrl+c quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if session == "" {
				session = uuid.NewString()
			}
			m := newChatModel(opts.client(), collection, session, k)
			_, err := tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "parallel_query", "collection to search")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session ID to continue (default: new session)")
	cmd.Flags().IntVar(&k, "k", 0, "passages per query (default: server setting)")
	return cmd
}

// chatClient is the part of client the chat model uses.
type chatClient interface {
	ask(ctx context.Context, req api.RAGRequest) (*api.RAGResponse, error)
	resetSession(ctx context.Context, id string) error
}

type turn struct {
	question string
	answer   string
	pages    []string
	err      error
}

// chatModel is the BubbleTea model behind ragctl chat.
type chatModel struct {
	client     chatClient
	collection string
	session    string
	k          int

	turns    []turn
	pending  bool
	notice   string
	quitting bool

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	ready    bool
}

func newChatModel(c chatClient, collection, session string, k int) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask a question"
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	return chatModel{
		client:     c,
		collection: collection,
		session:    session,
		k:          k,
		input:      ti,
		spinner:    sp,
		viewport:   viewport.New(80, 20),
	}
}

// Message types
type answerMsg struct {
	resp *api.RAGResponse
	err  error
}
type resetMsg struct{ err error }

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) askCmd(question string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		resp, err := m.client.ask(ctx, api.RAGRequest{
			Question:       question,
			CollectionName: m.collection,
			SessionID:      m.session,
			K:              m.k,
		})
		return answerMsg{resp: resp, err: err}
	}
}

func (m chatModel) resetCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return resetMsg{err: m.client.resetSession(ctx, m.session)}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyCtrlR:
			if m.pending {
				return m, nil
			}
			m.pending = true
			return m, tea.Batch(m.resetCmd(), m.spinner.Tick)
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" || m.pending {
				return m, nil
			}
			m.input.SetValue("")
			m.turns = append(m.turns, turn{question: question})
			m.pending = true
			m.notice = ""
			m.refresh()
			return m, tea.Batch(m.askCmd(question), m.spinner.Tick)
		}

	case answerMsg:
		m.pending = false
		if n := len(m.turns); n > 0 {
			last := &m.turns[n-1]
			if msg.err != nil {
				last.err = msg.err
			} else {
				last.answer = msg.resp.Answer
				last.pages = msg.resp.Pages
			}
		}
		m.refresh()
		return m, nil

	case resetMsg:
		m.pending = false
		if msg.err != nil {
			m.notice = errorStyle.Render("reset failed: " + msg.err.Error())
		} else {
			m.turns = nil
			m.notice = dimStyle.Render("session history cleared")
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m chatModel) transcript() string {
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(labelStyle.Render("You: "))
		b.WriteString(t.question)
		b.WriteString("\n")
		switch {
		case t.err != nil:
			b.WriteString(errorStyle.Render("Error: " + t.err.Error()))
			b.WriteString("\n")
		case t.answer != "":
			b.WriteString(labelStyle.Render("ragd: "))
			b.WriteString(t.answer)
			b.WriteString("\n")
			if len(t.pages) > 0 {
				b.WriteString(dimStyle.Render("Pages: " + strings.Join(t.pages, ", ")))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func (m chatModel) View() string {
	if m.quitting {
		return ""
	}

	header := headerStyle.Render(fmt.Sprintf("ragd chat · %s", m.collection)) + " " +
		dimStyle.Render("session "+m.session)

	status := m.notice
	if m.pending {
		status = m.spinner.View() + dimStyle.Render(" thinking")
	}

	footer := dimStyle.Render("Press ") + footerKeyStyle.Render("enter") + dimStyle.Render(" to send, ") +
		footerKeyStyle.Render("ctrl+r") + dimStyle.Render(" to reset, ") +
		footerKeyStyle.Render("esc") + dimStyle.Render(" to quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		status,
		m.input.View(),
		footer,
	)
}
