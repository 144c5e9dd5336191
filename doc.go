// Package ojs is a job-queue SDK whose lifecycle is observable through hook
// points.
//
// Producers enqueue jobs on a [Queue] (or through a [Client]); a [Worker]
// fetches them from a [Broker] and performs them with registered handlers.
// Brokers live in their own packages (redisbroker, lmstfybroker) or talk to
// an OJS server over HTTP ([HTTPBroker]).
//
// # Hook points
//
// Every lifecycle step runs through a [HookTable]:
//
//	queue.enqueue_job             Queue.EnqueueJob
//	queue.schedule_job            Queue.ScheduleJob
//	worker.perform_job            a worker taking and performing a job
//	job.perform                   the handler and its middleware
//	job.execute_*_callback        success, failure and stopped callbacks
//	worker.handle_job_success     acknowledging a completed job
//	worker.handle_job_failure     reporting a failed or stopped job
//
// An [Interceptor] installed with [HookTable.Wrap] sees the call's inputs
// and decides when the original operation runs. The otelojs package uses
// this to trace jobs across producers and workers.
//
// # Quick start
//
//	broker := ojs.NewHTTPBroker("http://localhost:8080")
//	client, _ := ojs.NewClient(broker)
//	job, err := client.Enqueue(ctx, "email.send", ojs.Args{"to": "user@example.com"})
//
//	worker, _ := ojs.NewWorker(broker, ojs.WithQueues("default"))
//	worker.Register("email.send", func(ctx ojs.JobContext) error {
//	    return sendEmail(ctx.Context(), ctx.Job.Args["to"].(string))
//	})
//	worker.Start(ctx)
package ojs
