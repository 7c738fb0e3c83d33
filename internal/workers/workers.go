package workers

import (
	"contralock/internal/lifecycle"
	"contralock/internal/queue"
)

// RegisterAll binds every job type to its handler on the queue service.
// Called once at startup after the queues are created.
func RegisterAll(q *queue.Service, payment *PaymentWorker, dispute *DisputeWorker) {
	q.Register(lifecycle.JobMilestoneRelease, payment.HandleMilestoneRelease)
	q.Register(lifecycle.JobDisputePayment, payment.HandleDisputeSettlement)
	q.Register(lifecycle.JobDisputeRefund, payment.HandleDisputeSettlement)
	q.Register(lifecycle.JobAiAnalysis, dispute.HandleAiAnalysis)
	q.Register(lifecycle.JobNotifyParties, dispute.HandleNotifyParties)
}
