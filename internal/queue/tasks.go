package queue

const (
	TypeDomainVerify   = "domain:verify"
	TypeDomainSetup    = "domain:setup"
	TypeWebhookDeliver = "webhook:deliver"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type DomainVerifyPayload struct {
	DomainID string `json:"domain_id"`
	TenantID string `json:"tenant_id"`
}

type DomainSetupPayload struct {
	DomainID string `json:"domain_id"`
	TenantID string `json:"tenant_id"`
}
