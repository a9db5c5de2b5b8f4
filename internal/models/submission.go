package models

// Narrative holds the free-text fields of a completion.
type Narrative struct {
	ClientName      string `json:"clientName"`
	WorkPerformed   string `json:"workPerformed"`
	MaterialsUsed   string `json:"materialsUsed,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type FollowUp struct {
	Required bool   `json:"required"`
	Notes    string `json:"notes,omitempty"`
}

// CompletionPayload is what the wizard hands to the orchestrator once every step validates.
type CompletionPayload struct {
	SubjectID         string
	SubmissionKey     string
	Narrative         Narrative
	SatisfactionScore int
	FollowUp          FollowUp
	Assets            []StagedAsset
	Signatures        map[SignerRole]SignatureArtifact
}

// CompletionRecord is the durable, server-owned completion entity.
type CompletionRecord struct {
	ID                 string `json:"_id,omitempty"`
	SubjectID          string `json:"subjectId"`
	SubmissionKey      string `json:"submissionKey"`
	ClientName         string `json:"clientName"`
	WorkPerformed      string `json:"workPerformed"`
	MaterialsUsed      string `json:"materialsUsed,omitempty"`
	Recommendations    string `json:"recommendations,omitempty"`
	Notes              string `json:"notes,omitempty"`
	SatisfactionScore  int    `json:"satisfactionScore"`
	CustomerSignature  string `json:"customerSignature"`
	InstallerSignature string `json:"installerSignature"`
	FollowUpRequired   bool   `json:"followUpRequired"`
	FollowUpNotes      string `json:"followUpNotes,omitempty"`
	PhotoCount         int    `json:"photoCount"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

// WorkOrderPayload is the lighter delivery confirmation: one signer, one summary.
type WorkOrderPayload struct {
	SubjectID  string
	Summary    string
	SignerName string
	Signature  SignatureArtifact
	Assets     []StagedAsset
}

type WorkOrder struct {
	ID         string `json:"_id,omitempty"`
	Number     string `json:"number"`
	SubjectID  string `json:"subjectId"`
	Summary    string `json:"summary"`
	SignerName string `json:"signerName,omitempty"`
	Signature  string `json:"signature"`
	PhotoCount int    `json:"photoCount"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`

	// Set when the submission finished after its caller left.
	FailedPhotoIDs []string `json:"failedPhotoIds,omitempty"`
	DocumentError  string   `json:"documentError,omitempty"`
}
