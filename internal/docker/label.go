package docker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shinji-kodama/podnet/internal/model"
)

// Label key constants define the Docker label keys used to persist
// session metadata on containers. These labels are the only record of a
// session outside the running podnet process, which is what allows
// "podnet list" and "podnet stop" to find containers left behind after a
// crash.
//
// All keys share the "podnet." prefix to namespace them and avoid
// collisions with labels set by the user's image or other tools.
const (
	// LabelPrefix is the common prefix for all podnet labels.
	LabelPrefix = "podnet."

	// LabelManagedBy identifies containers managed by podnet.
	// Key: "podnet.managed-by", Value: always "podnet".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelSession stores the session ID shared by the sidecar and workload.
	LabelSession = LabelPrefix + "session"

	// LabelRole stores the container's role: "sidecar" or "workload".
	LabelRole = LabelPrefix + "role"

	// LabelNamespace, LabelPod and LabelContainer record the remote target.
	LabelNamespace = LabelPrefix + "namespace"
	LabelPod       = LabelPrefix + "pod"
	LabelContainer = LabelPrefix + "container"

	// LabelCreatedAt stores the RFC3339 timestamp of session creation.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "podnet"

// BuildLabels constructs the Docker label map for a container of the
// given session and role.
func BuildLabels(meta model.SessionMeta, role model.Role) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelSession:   meta.ID,
		LabelRole:      role.String(),
		LabelPod:       meta.Target.PodName,
		LabelContainer: meta.Target.ContainerName,
		// UTC keeps the value stable regardless of the host timezone.
		LabelCreatedAt: meta.CreatedAt.UTC().Format(time.RFC3339),
	}
	if meta.Target.Namespace != "" {
		labels[LabelNamespace] = meta.Target.Namespace
	}
	return labels
}

// LabelArgs renders labels as "--label=key=value" docker run flags,
// sorted by key so the generated command line is deterministic.
func LabelArgs(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--label=%s=%s", k, labels[k]))
	}
	return args
}

// ParseLabels reconstructs the session metadata and container role from
// Docker container labels. It is the inverse of BuildLabels.
//
// Required labels: managed-by, session, role, pod, container, created-at.
// The namespace label is optional. Missing required labels cause an error
// listing all of them at once.
func ParseLabels(labels map[string]string) (model.SessionMeta, model.Role, error) {
	requiredKeys := []string{
		LabelManagedBy,
		LabelSession,
		LabelRole,
		LabelPod,
		LabelContainer,
		LabelCreatedAt,
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return model.SessionMeta{}, "", fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return model.SessionMeta{}, "", fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	role, err := model.ParseRole(labels[LabelRole])
	if err != nil {
		return model.SessionMeta{}, "", fmt.Errorf("invalid label %s: %w", LabelRole, err)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return model.SessionMeta{}, "", fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	return model.SessionMeta{
		ID: labels[LabelSession],
		Target: model.RemoteTarget{
			Namespace:     labels[LabelNamespace],
			PodName:       labels[LabelPod],
			ContainerName: labels[LabelContainer],
		},
		CreatedAt: createdAt,
	}, role, nil
}

// FilterLabels returns the label filter that selects podnet containers.
func FilterLabels() map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
	}
}
