package redisbroker

// DefaultPrefix is prepended to every key the broker writes.
const DefaultPrefix = "ojs:"

// keys builds the Redis keys of a broker:
//
//	{prefix}job:{id}        hash: data (encoded job), state, queue, priority
//	{prefix}queue:{name}    sorted set of available job IDs
//	{prefix}scheduled       sorted set of scheduled and retrying job IDs by due time
//	{prefix}worker:{id}     hash: last heartbeat of a worker
//	{prefix}worker_state    desired state returned to heartbeating workers
type keys struct {
	prefix string
}

func (k keys) job(id string) string { return k.prefix + "job:" + id }

func (k keys) queue(name string) string { return k.prefix + "queue:" + name }

func (k keys) scheduled() string { return k.prefix + "scheduled" }

func (k keys) worker(id string) string { return k.prefix + "worker:" + id }

func (k keys) workerState() string { return k.prefix + "worker_state" }
