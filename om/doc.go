// Package om implements the Lamport-Shostak-Pease Oral Messages algorithm OM(m).
package om

/*
	SETUP
		- Count traitors from the loyalty array and refuse to run unless nGenerals > 3 * nTraitors
		- Allocate the barrier, the completion signal and the channel hierarchy, top tier first

	BROADCAST
		- The commander stamps its id into the outermost provenance slot
		- Loyal: every frame carries the command. Traitor: frames alternate RETREAT / ATTACK
		- nGenerals frames land on the single top tier channel, one per general goroutine

	OM(tier > 0)
		- Dequeue from (tier, pathIndex). The commander stops here
		- Stamp own id into slot tier-1, traitors overwrite the value (even id RETREAT, odd id ATTACK)
		- Enqueue one copy per general not yet on the path onto (tier-1, nGenerals*pathIndex+id)
		- Recurse OM(tier-1) on behalf of each of those generals

	OM(0)
		- Only the reporter dequeues, appending the leaf frame to the trace

	BARRIER
		- Every general releases its semaphore nGenerals-1 times and acquires every other one once
		- General 0 then emits the trace and signals the broadcaster
*/
