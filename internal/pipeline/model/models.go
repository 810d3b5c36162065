package model

// Models lists the pipeline tables in migration order.
func Models() []any {
	return []any{
		&Pipeline{},
		&PipelineState{},
		&PipelineTransition{},
		&TransitionAction{},
		&EntityState{},
		&StateLog{},
	}
}
