package actor

// InputBase is embedded in input structs to implement Input.
type InputBase struct{}

func (InputBase) isActorInput() {}

// EffectBase is embedded in effect structs to implement Effect.
type EffectBase struct{}

func (EffectBase) isActorEffect() {}
