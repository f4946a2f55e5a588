package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/taskrelay/taskrelay/internal/workflow"
)

var (
	app = kingpin.New("taskrelay", "Task workflow and agent notification engine CLI")

	serverURL = app.Flag("server", "Server base URL").Default("http://localhost:3200").Envar("TASKRELAY_URL").String()
	apiKey    = app.Flag("api-key", "Gateway API key").Envar("TASKRELAY_API_KEY").String()
	accountID = app.Flag("account", "Account ID").Envar("TASKRELAY_ACCOUNT_ID").String()
	userID    = app.Flag("user", "User ID").Envar("TASKRELAY_USER_ID").String()
	userName  = app.Flag("user-name", "User display name").Envar("TASKRELAY_USER_NAME").String()
	agentKey  = app.Flag("agent-key", "Agent API key").Envar("TASKRELAY_AGENT_KEY").String()

	// Task commands
	taskCmd = app.Command("task", "Task commands")

	taskCreateCmd      = taskCmd.Command("create", "Create a new task")
	taskCreateTitle    = taskCreateCmd.Arg("title", "Task title").Required().String()
	taskCreateDesc     = taskCreateCmd.Flag("description", "Task description").String()
	taskCreatePriority = taskCreateCmd.Flag("priority", "Priority, 0 (urgent) to 9").Default("4").Int()
	taskCreateLabels   = taskCreateCmd.Flag("label", "Label (repeatable)").Strings()

	taskListCmd    = taskCmd.Command("list", "List tasks")
	taskListStatus = taskListCmd.Flag("status", "Filter by status").String()
	taskListLimit  = taskListCmd.Flag("limit", "Page size").Default("50").Int()
	taskListOffset = taskListCmd.Flag("offset", "Page offset").Default("0").Int()

	taskShowCmd = taskCmd.Command("show", "Show a task")
	taskShowID  = taskShowCmd.Arg("id", "Task ID").Required().String()

	taskStatusCmd      = taskCmd.Command("status", "Request a status transition")
	taskStatusID       = taskStatusCmd.Arg("id", "Task ID").Required().String()
	taskStatusTarget   = taskStatusCmd.Arg("target", "Target status").Required().String()
	taskStatusReason   = taskStatusCmd.Flag("reason", "Blocked reason (required for blocked)").String()
	taskStatusExpected = taskStatusCmd.Flag("expected", "Expected current status (no-op on mismatch)").String()

	taskAssignCmd    = taskCmd.Command("assign", "Replace task assignees")
	taskAssignID     = taskAssignCmd.Arg("id", "Task ID").Required().String()
	taskAssignUsers  = taskAssignCmd.Flag("user", "User ID (repeatable)").Strings()
	taskAssignAgents = taskAssignCmd.Flag("agent", "Agent ID (repeatable)").Strings()

	taskArchiveCmd = taskCmd.Command("archive", "Archive a task")
	taskArchiveID  = taskArchiveCmd.Arg("id", "Task ID").Required().String()

	taskAuditCmd = taskCmd.Command("audit", "Show a task's activity log")
	taskAuditID  = taskAuditCmd.Arg("id", "Task ID").Required().String()

	// Agent commands
	agentCmd = app.Command("agent", "Agent commands")

	agentListCmd = agentCmd.Command("list", "List agents")

	agentCreateCmd  = agentCmd.Command("create", "Register an agent")
	agentCreateName = agentCreateCmd.Arg("name", "Agent name").Required().String()
	agentCreateSlug = agentCreateCmd.Arg("slug", "Agent slug").Required().String()
	agentCreateRole = agentCreateCmd.Flag("role", "Agent role").String()

	agentHeartbeatCmd    = agentCmd.Command("heartbeat", "Report an agent heartbeat")
	agentHeartbeatID     = agentHeartbeatCmd.Arg("id", "Agent ID").Required().String()
	agentHeartbeatStatus = agentHeartbeatCmd.Flag("status", "Operational status").Default("online").String()

	// Account commands
	accountCmd = app.Command("account", "Account commands")

	accountCreateCmd  = accountCmd.Command("create", "Create an account")
	accountCreateName = accountCreateCmd.Arg("name", "Account name").Required().String()

	accountShowCmd = accountCmd.Command("show", "Show the current account")

	accountOrchestratorCmd = accountCmd.Command("orchestrator", "Set the orchestrator agent")
	accountOrchestratorID  = accountOrchestratorCmd.Arg("agent-id", "Agent ID (empty to clear)").String()

	// Notification commands
	notificationCmd = app.Command("notification", "Notification commands")

	notificationListCmd = notificationCmd.Command("undelivered", "List undelivered notifications")
)

var statusColors = map[workflow.Status]*color.Color{
	workflow.StatusInbox:      color.New(color.FgWhite),
	workflow.StatusAssigned:   color.New(color.FgCyan),
	workflow.StatusInProgress: color.New(color.FgBlue),
	workflow.StatusReview:     color.New(color.FgMagenta),
	workflow.StatusDone:       color.New(color.FgGreen),
	workflow.StatusBlocked:    color.New(color.FgRed),
	workflow.StatusArchived:   color.New(color.Faint),
}

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	c := &client{
		baseURL:   *serverURL,
		apiKey:    *apiKey,
		accountID: *accountID,
		userID:    *userID,
		userName:  *userName,
		agentKey:  *agentKey,
		http:      &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch command {
	case taskCreateCmd.FullCommand():
		err = c.taskCreate(*taskCreateTitle, *taskCreateDesc, *taskCreatePriority, *taskCreateLabels)
	case taskListCmd.FullCommand():
		err = c.taskList(*taskListStatus, *taskListLimit, *taskListOffset)
	case taskShowCmd.FullCommand():
		err = c.taskShow(*taskShowID)
	case taskStatusCmd.FullCommand():
		err = c.taskStatus(*taskStatusID, *taskStatusTarget, *taskStatusReason, *taskStatusExpected)
	case taskAssignCmd.FullCommand():
		err = c.taskAssign(*taskAssignID, *taskAssignUsers, *taskAssignAgents)
	case taskArchiveCmd.FullCommand():
		err = c.taskArchive(*taskArchiveID)
	case taskAuditCmd.FullCommand():
		err = c.taskAudit(*taskAuditID)
	case agentListCmd.FullCommand():
		err = c.agentList()
	case agentCreateCmd.FullCommand():
		err = c.agentCreate(*agentCreateName, *agentCreateSlug, *agentCreateRole)
	case agentHeartbeatCmd.FullCommand():
		err = c.agentHeartbeat(*agentHeartbeatID, *agentHeartbeatStatus)
	case accountCreateCmd.FullCommand():
		err = c.accountCreate(*accountCreateName)
	case accountShowCmd.FullCommand():
		err = c.accountShow()
	case accountOrchestratorCmd.FullCommand():
		err = c.accountOrchestrator(*accountOrchestratorID)
	case notificationListCmd.FullCommand():
		err = c.notificationUndelivered()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	baseURL   string
	apiKey    string
	accountID string
	userID    string
	userName  string
	agentKey  string
	http      *http.Client
}

func (c *client) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if c.agentKey != "" {
		req.Header.Set("X-Agent-Key", c.agentKey)
	} else {
		req.Header.Set("X-User-ID", c.userID)
		req.Header.Set("X-User-Name", c.userName)
		req.Header.Set("X-Account-ID", c.accountID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type cliTask struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Status           workflow.Status `json:"status"`
	Priority         int             `json:"priority"`
	Labels           []string        `json:"labels"`
	AssignedUserIDs  []string        `json:"assigned_user_ids"`
	AssignedAgentIDs []string        `json:"assigned_agent_ids"`
	BlockedReason    string          `json:"blocked_reason"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (c *client) taskCreate(title, description string, priority int, labels []string) error {
	var resp struct {
		Task cliTask `json:"task"`
	}
	err := c.do(http.MethodPost, "/api/tasks", map[string]any{
		"title":       title,
		"description": description,
		"priority":    priority,
		"labels":      labels,
	}, &resp)
	if err != nil {
		return err
	}
	printTask(&resp.Task)
	return nil
}

func (c *client) taskList(status string, limit, offset int) error {
	path := fmt.Sprintf("/api/tasks?limit=%d&offset=%d", limit, offset)
	if status != "" {
		path += "&status=" + status
	}
	var resp struct {
		Tasks []*cliTask `json:"tasks"`
		Total int        `json:"total"`
	}
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	for _, t := range resp.Tasks {
		statusStr := colorStatus(t.Status)
		fmt.Printf("%s  %s  p%d  %s\n", t.ID, statusStr, t.Priority, t.Title)
	}
	fmt.Printf("%d of %d tasks\n", len(resp.Tasks), resp.Total)
	return nil
}

func (c *client) taskShow(id string) error {
	var resp struct {
		Task cliTask `json:"task"`
	}
	if err := c.do(http.MethodGet, "/api/tasks/"+id, nil, &resp); err != nil {
		return err
	}
	printTask(&resp.Task)
	return nil
}

func (c *client) taskStatus(id, target, reason, expected string) error {
	var resp struct {
		PreviousStatus workflow.Status `json:"previous_status"`
		NewStatus      workflow.Status `json:"new_status"`
		Changed        bool            `json:"changed"`
	}
	err := c.do(http.MethodPost, "/api/tasks/"+id+"/status", map[string]any{
		"target":          target,
		"blocked_reason":  reason,
		"expected_status": expected,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Changed {
		fmt.Printf("no change, task is %s\n", colorStatus(resp.NewStatus))
		return nil
	}
	fmt.Printf("%s -> %s\n", colorStatus(resp.PreviousStatus), colorStatus(resp.NewStatus))
	return nil
}

func (c *client) taskAssign(id string, users, agents []string) error {
	var resp struct {
		Task cliTask `json:"task"`
	}
	err := c.do(http.MethodPost, "/api/tasks/"+id+"/assign", map[string]any{
		"user_ids":  users,
		"agent_ids": agents,
	}, &resp)
	if err != nil {
		return err
	}
	printTask(&resp.Task)
	return nil
}

func (c *client) taskArchive(id string) error {
	var resp struct {
		Task cliTask `json:"task"`
	}
	if err := c.do(http.MethodPost, "/api/tasks/"+id+"/archive", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("archived %s\n", resp.Task.ID)
	return nil
}

func (c *client) taskAudit(id string) error {
	var resp struct {
		Entries []struct {
			ActorType  string          `json:"actor_type"`
			ActorID    string          `json:"actor_id"`
			Action     string          `json:"action"`
			FromStatus workflow.Status `json:"from_status"`
			ToStatus   workflow.Status `json:"to_status"`
			Detail     string          `json:"detail"`
			CreatedAt  time.Time       `json:"created_at"`
		} `json:"entries"`
	}
	if err := c.do(http.MethodGet, "/api/tasks/"+id+"/audit", nil, &resp); err != nil {
		return err
	}
	for _, e := range resp.Entries {
		line := fmt.Sprintf("%s  %s %s/%s", e.CreatedAt.Format(time.RFC3339), e.Action, e.ActorType, e.ActorID)
		if e.FromStatus != "" || e.ToStatus != "" {
			line += fmt.Sprintf("  %s -> %s", e.FromStatus, e.ToStatus)
		}
		if e.Detail != "" {
			line += "  (" + e.Detail + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func (c *client) agentList() error {
	var resp struct {
		Agents []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Slug   string `json:"slug"`
			Role   string `json:"role"`
			Status string `json:"status"`
		} `json:"agents"`
	}
	if err := c.do(http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return err
	}
	for _, a := range resp.Agents {
		fmt.Printf("%s  %-12s  %-10s  %s\n", a.ID, a.Slug, a.Status, a.Name)
	}
	return nil
}

func (c *client) agentCreate(name, slug, role string) error {
	var resp struct {
		Agent struct {
			ID string `json:"id"`
		} `json:"agent"`
		APIKey string `json:"api_key"`
	}
	err := c.do(http.MethodPost, "/api/agents", map[string]any{
		"name": name,
		"slug": slug,
		"role": role,
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("created agent %s\n", resp.Agent.ID)
	color.Yellow("API key (shown once): %s", resp.APIKey)
	return nil
}

func (c *client) agentHeartbeat(id, status string) error {
	return c.do(http.MethodPost, "/api/agents/"+id+"/heartbeat", map[string]any{"status": status}, nil)
}

func (c *client) accountCreate(name string) error {
	var resp struct {
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	}
	if err := c.do(http.MethodPost, "/api/accounts", map[string]any{"name": name}, &resp); err != nil {
		return err
	}
	fmt.Printf("created account %s\n", resp.Account.ID)
	return nil
}

func (c *client) accountShow() error {
	var resp struct {
		Account struct {
			ID                  string `json:"id"`
			Name                string `json:"name"`
			OrchestratorAgentID string `json:"orchestrator_agent_id"`
		} `json:"account"`
	}
	if err := c.do(http.MethodGet, "/api/accounts/"+c.accountID, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("ID:           %s\n", resp.Account.ID)
	fmt.Printf("Name:         %s\n", resp.Account.Name)
	fmt.Printf("Orchestrator: %s\n", resp.Account.OrchestratorAgentID)
	return nil
}

func (c *client) accountOrchestrator(agentID string) error {
	return c.do(http.MethodPut, "/api/accounts/"+c.accountID+"/orchestrator", map[string]any{"agent_id": agentID}, nil)
}

func (c *client) notificationUndelivered() error {
	var resp struct {
		Notifications []struct {
			ID          string    `json:"id"`
			Type        string    `json:"type"`
			RecipientID string    `json:"recipient_id"`
			Title       string    `json:"title"`
			CreatedAt   time.Time `json:"created_at"`
		} `json:"notifications"`
	}
	if err := c.do(http.MethodGet, "/api/notifications/undelivered", nil, &resp); err != nil {
		return err
	}
	for _, n := range resp.Notifications {
		fmt.Printf("%s  %-16s  %s  %s\n", n.ID, n.Type, n.RecipientID, n.Title)
	}
	return nil
}

func printTask(t *cliTask) {
	fmt.Printf("ID:       %s\n", t.ID)
	fmt.Printf("Title:    %s\n", t.Title)
	fmt.Printf("Status:   %s\n", colorStatus(t.Status))
	fmt.Printf("Priority: %d\n", t.Priority)
	if len(t.Labels) > 0 {
		fmt.Printf("Labels:   %v\n", t.Labels)
	}
	if len(t.AssignedUserIDs) > 0 {
		fmt.Printf("Users:    %v\n", t.AssignedUserIDs)
	}
	if len(t.AssignedAgentIDs) > 0 {
		fmt.Printf("Agents:   %v\n", t.AssignedAgentIDs)
	}
	if t.BlockedReason != "" {
		fmt.Printf("Blocked:  %s\n", t.BlockedReason)
	}
	if t.Description != "" {
		fmt.Printf("\n%s\n", t.Description)
	}
}

func colorStatus(s workflow.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}
