// Package rank defines core types shared across subsystems: projects and
// their ranking history, the rank-check batch lifecycle, and the interfaces
// implemented by the queue, the project store, and the search client.
package rank
