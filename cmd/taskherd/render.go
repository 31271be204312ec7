package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/taskherd/taskherd/internals/schemas"
)

var (
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
)

func statusStyle(status schemas.TaskStatus) lipgloss.Style {
	switch status {
	case schemas.TaskStatusRunning:
		return runningStyle
	case schemas.TaskStatusCompleted:
		return doneStyle
	case schemas.TaskStatusFailed:
		return failedStyle
	default:
		return pendingStyle
	}
}

func renderTaskList(tasks []*schemas.Task) string {
	if len(tasks) == 0 {
		return "no recent tasks\n"
	}
	var b strings.Builder
	for _, task := range tasks {
		duration := ""
		if d, ok := task.Duration(); ok {
			duration = d.Round(time.Second).String()
		}
		fmt.Fprintf(&b, "%s  %-9s  %-8s  %s\n",
			idStyle.Render(task.ID[:8]),
			statusStyle(task.Status).Render(string(task.Status)),
			duration,
			task.Command,
		)
	}
	return b.String()
}

func renderTaskDetail(task *schemas.Task) string {
	var b strings.Builder
	write := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(label), value)
		}
	}
	write("id", task.ID)
	write("command", task.Command)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("status"), statusStyle(task.Status).Render(string(task.Status)))
	write("started", task.StartTime.Format(time.RFC3339))
	if task.EndTime != nil {
		write("finished", task.EndTime.Format(time.RFC3339))
	}
	if task.ExitCode != nil {
		write("exit code", fmt.Sprintf("%d", *task.ExitCode))
	}
	write("log", task.LogFile)
	write("error", task.ErrorMessage)
	for key, value := range task.Args {
		write("arg", key+"="+value)
	}
	return b.String()
}
