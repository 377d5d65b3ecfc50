package v3d

import (
	"github.com/gogpu/gputypes"
)

// AttachmentUnused marks an attachment reference slot as not wired to
// any framebuffer attachment.
const AttachmentUnused = ^uint32(0)

// LoadOp selects what happens to an attachment's contents when a tile
// first touches it in a render pass.
type LoadOp uint8

const (
	// LoadOpLoad reads the previous contents into the tile buffer.
	LoadOpLoad LoadOp = iota
	// LoadOpClear fills the tile buffer with the clear value.
	LoadOpClear
	// LoadOpDontCare leaves the tile buffer undefined.
	LoadOpDontCare
)

// StoreOp selects what happens to the tile buffer contents when the
// last subpass using an attachment finishes.
type StoreOp uint8

const (
	// StoreOpStore writes the tile buffer back to memory.
	StoreOpStore StoreOp = iota
	// StoreOpDontCare discards the tile buffer contents.
	StoreOpDontCare
)

// AttachmentDescription describes one render pass attachment.
type AttachmentDescription struct {
	Format  gputypes.TextureFormat
	Samples uint32

	LoadOp  LoadOp
	StoreOp StoreOp

	// StencilLoadOp and StencilStoreOp apply to the stencil aspect of
	// combined depth/stencil formats and are ignored otherwise.
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
}

// AttachmentReference wires a subpass slot to a render pass attachment,
// or to nothing via AttachmentUnused.
type AttachmentReference struct {
	Attachment uint32
}

// SubpassDescription describes one subpass: which attachments it draws
// to and which it resolves at the end.
type SubpassDescription struct {
	ColorAttachments []AttachmentReference

	// ResolveAttachments is either empty or the same length as
	// ColorAttachments; per-slot AttachmentUnused disables the resolve.
	ResolveAttachments []AttachmentReference

	DepthStencilAttachment AttachmentReference
}

// attachmentUse is the precomputed first/last subpass index touching an
// attachment. Unused attachments keep firstUse > lastUse.
type attachmentUse struct {
	firstUse uint32
	lastUse  uint32
}

func (u attachmentUse) used() bool { return u.firstUse <= u.lastUse }

// subpass is the internal view of a subpass after render pass
// construction.
type subpass struct {
	colorAttachments   []AttachmentReference
	resolveAttachments []AttachmentReference
	dsAttachment       AttachmentReference
}

// hasResolve reports whether any color slot resolves.
func (s *subpass) hasResolve() bool {
	for _, ref := range s.resolveAttachments {
		if ref.Attachment != AttachmentUnused {
			return true
		}
	}
	return false
}

// RenderPass is the immutable compiled form of a render pass
// description. Construction precomputes per-attachment first/last use
// so the recorder can decide tile buffer loads and stores without
// walking the subpass list per draw.
type RenderPass struct {
	attachments []AttachmentDescription
	subpasses   []subpass
	uses        []attachmentUse
}

// NewRenderPass compiles a render pass description.
func NewRenderPass(attachments []AttachmentDescription, subpasses []SubpassDescription) *RenderPass {
	p := &RenderPass{
		attachments: append([]AttachmentDescription(nil), attachments...),
		subpasses:   make([]subpass, len(subpasses)),
		uses:        make([]attachmentUse, len(attachments)),
	}
	for i := range p.uses {
		p.uses[i] = attachmentUse{firstUse: ^uint32(0), lastUse: 0}
	}
	mark := func(att uint32, idx uint32) {
		if att == AttachmentUnused {
			return
		}
		u := &p.uses[att]
		if idx < u.firstUse {
			u.firstUse = idx
		}
		if idx > u.lastUse {
			u.lastUse = idx
		}
	}
	for i, sd := range subpasses {
		sp := subpass{
			colorAttachments:   append([]AttachmentReference(nil), sd.ColorAttachments...),
			resolveAttachments: append([]AttachmentReference(nil), sd.ResolveAttachments...),
			dsAttachment:       sd.DepthStencilAttachment,
		}
		p.subpasses[i] = sp
		for _, ref := range sd.ColorAttachments {
			mark(ref.Attachment, uint32(i))
		}
		for _, ref := range sd.ResolveAttachments {
			mark(ref.Attachment, uint32(i))
		}
		mark(sd.DepthStencilAttachment.Attachment, uint32(i))
	}
	return p
}

// SubpassCount returns the number of subpasses.
func (p *RenderPass) SubpassCount() int { return len(p.subpasses) }

// Attachments returns the attachment descriptions.
func (p *RenderPass) Attachments() []AttachmentDescription { return p.attachments }

// subpassInternalBPP returns the widest internal bpp among the color
// attachments of subpass idx.
func (p *RenderPass) subpassInternalBPP(idx int) uint8 {
	maxBPP := uint8(InternalBPP32)
	for _, ref := range p.subpasses[idx].colorAttachments {
		if ref.Attachment == AttachmentUnused {
			continue
		}
		fi := lookupFormat(p.attachments[ref.Attachment].Format)
		if fi.internalBPP > maxBPP {
			maxBPP = fi.internalBPP
		}
	}
	return maxBPP
}

// RenderAreaGranularity returns the render area alignment below which a
// render pass cannot honor per-tile clear semantics: the tile size the
// hardware would pick for the worst case of this pass, assuming a
// single-sampled framebuffer. Render areas not aligned to this
// granularity force clear loads through the slower load-path.
func (p *RenderPass) RenderAreaGranularity() (w, h uint32) {
	maxColor := 0
	maxBPP := uint8(InternalBPP32)
	for i := range p.subpasses {
		if n := len(p.subpasses[i].colorAttachments); n > maxColor {
			maxColor = n
		}
		if bpp := p.subpassInternalBPP(i); bpp > maxBPP {
			maxBPP = bpp
		}
	}
	tw, th := tileSize(maxColor, maxBPP, false)
	return tw, th
}
