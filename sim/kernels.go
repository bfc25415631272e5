package sim

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Reference kernel tuning shared by the CPU and OpenCL programs.
const (
	targetVelocityInfluence = 0.1
	attractionDecay         = 0.95
	minAttractDistance      = 1e-4
)

type argKind int

const (
	argFloat argKind = iota
	argInt
	argVector
	argBuffer
)

type kernelArg struct {
	name string
	kind argKind
}

// kernelSignatures lists every kernel argument in declaration order. The
// OpenCL backend binds by index from this table.
var kernelSignatures = map[string][]kernelArg{
	KernelAttract: {
		{ParamAttractStrength, argFloat},
		{ParamMaxSpeed, argFloat},
		{ParamTargetPos, argVector},
		{ParamTargetVel, argVector},
		{ParamParticleCount, argInt},
		{BufferAttraction, argBuffer},
		{BufferParticleRead, argBuffer},
	},
	KernelUpdate: {
		{ParamDeltaTime, argFloat},
		{ParamAvoidWallStrength, argFloat},
		{ParamMaxSpeed, argFloat},
		{ParamWallCenter, argVector},
		{ParamWallSize, argVector},
		{ParamParticleCount, argInt},
		{BufferAttraction, argBuffer},
		{BufferParticleWrite, argBuffer},
	},
}

func clampLength(v mgl32.Vec3, maxLen float32) mgl32.Vec3 {
	l := v.Len()
	if l > maxLen && l > 0 {
		return v.Mul(maxLen / l)
	}
	return v
}

// attractParticle accumulates the pull of the target on one particle.
func attractParticle(attraction, particle []float32, strength, maxSpeed float32, targetPos, targetVel mgl32.Vec3) {
	pos := mgl32.Vec3{particle[0], particle[1], particle[2]}
	uniqueSpeed := particle[11]
	acc := targetVel.Mul(targetVelocityInfluence)
	dir := targetPos.Sub(pos)
	if dist := dir.Len(); dist > minAttractDistance {
		acc = acc.Add(dir.Mul(strength * uniqueSpeed / dist))
	}
	a := mgl32.Vec3{attraction[0], attraction[1], attraction[2]}.Add(acc)
	a = clampLength(a, maxSpeed)
	attraction[0], attraction[1], attraction[2] = a[0], a[1], a[2]
}

// updateParticle integrates one particle and decays its attraction.
func updateParticle(attraction, particle []float32, dt, avoidWall, maxSpeed float32, wallCenter, wallSize mgl32.Vec3) {
	a := mgl32.Vec3{attraction[0], attraction[1], attraction[2]}
	pos := mgl32.Vec3{particle[0], particle[1], particle[2]}
	vel := mgl32.Vec3{particle[3], particle[4], particle[5]}

	vel = clampLength(vel.Add(a.Mul(dt)), maxSpeed)
	for axis := 0; axis < 3; axis++ {
		lo := wallCenter[axis] - wallSize[axis]
		hi := wallCenter[axis] + wallSize[axis]
		if pos[axis] < lo {
			vel[axis] += (lo - pos[axis]) * avoidWall * dt
		} else if pos[axis] > hi {
			vel[axis] -= (pos[axis] - hi) * avoidWall * dt
		}
	}
	pos = pos.Add(vel.Mul(dt))

	particle[0], particle[1], particle[2] = pos[0], pos[1], pos[2]
	particle[3], particle[4], particle[5] = vel[0], vel[1], vel[2]
	a = a.Mul(attractionDecay)
	attraction[0], attraction[1], attraction[2] = a[0], a[1], a[2]
}

// particleKernelSource mirrors attractParticle and updateParticle. Vector
// uniforms are float4 with an unused w so host structs stay 16-byte aligned.
const particleKernelSource = `
#define PARTICLE_STRIDE 12
#define TARGET_VEL_INFLUENCE 0.1f
#define ATTRACTION_DECAY 0.95f
#define MIN_ATTRACT_DISTANCE 1e-4f

float3 clamp_length(float3 v, float max_len)
{
    float l = length(v);
    if (l > max_len && l > 0.0f) {
        return v * (max_len / l);
    }
    return v;
}

__kernel void Attract(
    const float attract_strength,
    const float max_speed,
    const float4 target_pos,
    const float4 target_vel,
    const int count,
    __global float* attraction,
    __global const float* particles)
{
    int i = get_global_id(0);
    if (i >= count) {
        return;
    }
    __global const float* p = particles + i * PARTICLE_STRIDE;
    float3 pos = (float3)(p[0], p[1], p[2]);
    float unique_speed = p[11];
    float3 acc = target_vel.xyz * TARGET_VEL_INFLUENCE;
    float3 dir = target_pos.xyz - pos;
    float dist = length(dir);
    if (dist > MIN_ATTRACT_DISTANCE) {
        acc += dir * (attract_strength * unique_speed / dist);
    }
    __global float* a = attraction + i * 3;
    float3 sum = clamp_length((float3)(a[0], a[1], a[2]) + acc, max_speed);
    a[0] = sum.x;
    a[1] = sum.y;
    a[2] = sum.z;
}

__kernel void Update(
    const float dt,
    const float avoid_wall,
    const float max_speed,
    const float4 wall_center,
    const float4 wall_size,
    const int count,
    __global float* attraction,
    __global float* particles)
{
    int i = get_global_id(0);
    if (i >= count) {
        return;
    }
    __global float* p = particles + i * PARTICLE_STRIDE;
    __global float* a = attraction + i * 3;
    float3 acc = (float3)(a[0], a[1], a[2]);
    float3 pos = (float3)(p[0], p[1], p[2]);
    float3 vel = clamp_length((float3)(p[3], p[4], p[5]) + acc * dt, max_speed);
    float3 lo = wall_center.xyz - wall_size.xyz;
    float3 hi = wall_center.xyz + wall_size.xyz;
    if (pos.x < lo.x) vel.x += (lo.x - pos.x) * avoid_wall * dt;
    else if (pos.x > hi.x) vel.x -= (pos.x - hi.x) * avoid_wall * dt;
    if (pos.y < lo.y) vel.y += (lo.y - pos.y) * avoid_wall * dt;
    else if (pos.y > hi.y) vel.y -= (pos.y - hi.y) * avoid_wall * dt;
    if (pos.z < lo.z) vel.z += (lo.z - pos.z) * avoid_wall * dt;
    else if (pos.z > hi.z) vel.z -= (pos.z - hi.z) * avoid_wall * dt;
    pos += vel * dt;
    p[0] = pos.x;
    p[1] = pos.y;
    p[2] = pos.z;
    p[3] = vel.x;
    p[4] = vel.y;
    p[5] = vel.z;
    acc *= ATTRACTION_DECAY;
    a[0] = acc.x;
    a[1] = acc.y;
    a[2] = acc.z;
}
`
