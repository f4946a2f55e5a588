package permission

// BehaviorFlags is the fully-resolved capability set of an agent. Resolution
// is total: every agent always ends up with a value for every flag.
type BehaviorFlags struct {
	CanCreateTasks      bool `yaml:"can_create_tasks" json:"can_create_tasks"`
	CanModifyTaskStatus bool `yaml:"can_modify_task_status" json:"can_modify_task_status"`
	CanCreateDocuments  bool `yaml:"can_create_documents" json:"can_create_documents"`
	CanMentionAgents    bool `yaml:"can_mention_agents" json:"can_mention_agents"`
	CanReviewTasks      bool `yaml:"can_review_tasks" json:"can_review_tasks"`
	CanMarkDone         bool `yaml:"can_mark_done" json:"can_mark_done"`
}

// Overrides is a partial flag layer. A nil field inherits from the layer
// below it.
type Overrides struct {
	CanCreateTasks      *bool `yaml:"can_create_tasks,omitempty" json:"can_create_tasks,omitempty"`
	CanModifyTaskStatus *bool `yaml:"can_modify_task_status,omitempty" json:"can_modify_task_status,omitempty"`
	CanCreateDocuments  *bool `yaml:"can_create_documents,omitempty" json:"can_create_documents,omitempty"`
	CanMentionAgents    *bool `yaml:"can_mention_agents,omitempty" json:"can_mention_agents,omitempty"`
	CanReviewTasks      *bool `yaml:"can_review_tasks,omitempty" json:"can_review_tasks,omitempty"`
	CanMarkDone         *bool `yaml:"can_mark_done,omitempty" json:"can_mark_done,omitempty"`
}

// Defaults is the compiled-in bottom layer. Mentioning other agents is an
// elevated right granted per account or per agent.
func Defaults() BehaviorFlags {
	return BehaviorFlags{
		CanCreateTasks:      true,
		CanModifyTaskStatus: true,
		CanCreateDocuments:  false,
		CanMentionAgents:    false,
		CanReviewTasks:      true,
		CanMarkDone:         true,
	}
}

// Resolve merges the account-level and agent-level override layers over the
// global defaults, field by field, with the agent layer taking precedence.
// Nil layers are treated as empty. Resolve never fails.
func Resolve(global BehaviorFlags, accountDefault, agentOverride *Overrides) BehaviorFlags {
	resolved := global
	for _, layer := range []*Overrides{accountDefault, agentOverride} {
		if layer == nil {
			continue
		}
		if layer.CanCreateTasks != nil {
			resolved.CanCreateTasks = *layer.CanCreateTasks
		}
		if layer.CanModifyTaskStatus != nil {
			resolved.CanModifyTaskStatus = *layer.CanModifyTaskStatus
		}
		if layer.CanCreateDocuments != nil {
			resolved.CanCreateDocuments = *layer.CanCreateDocuments
		}
		if layer.CanMentionAgents != nil {
			resolved.CanMentionAgents = *layer.CanMentionAgents
		}
		if layer.CanReviewTasks != nil {
			resolved.CanReviewTasks = *layer.CanReviewTasks
		}
		if layer.CanMarkDone != nil {
			resolved.CanMarkDone = *layer.CanMarkDone
		}
	}
	return resolved
}
